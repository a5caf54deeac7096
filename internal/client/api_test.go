package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadyReturnsServerFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/ready", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ready": true})
	}))
	defer srv.Close()

	c := NewAdminClient(srv.URL)
	ready, err := c.Ready()
	require.NoError(t, err)
	require.True(t, ready)
}

func TestCreateAccountPostsExpectedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/admin/accounts", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "alice", body["account_name"])
		require.Equal(t, "card-1", body["card_id"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"account_name": "alice", "card_id": "card-1"})
	}))
	defer srv.Close()

	c := NewAdminClient(srv.URL)
	require.NoError(t, c.CreateAccount("alice", "card-1", 1000))
}

func TestGetBalanceParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/accounts/alice/balance", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"account_name": "alice", "balance": 2500})
	}))
	defer srv.Close()

	c := NewAdminClient(srv.URL)
	balance, err := c.GetBalance("alice")
	require.NoError(t, err)
	require.Equal(t, int64(2500), balance)
}

func TestSetBalanceUsesPut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/admin/accounts/alice/balance", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"account_name": "alice", "balance": 500})
	}))
	defer srv.Close()

	c := NewAdminClient(srv.URL)
	require.NoError(t, c.SetBalance("alice", 500))
}

func TestCreateATMEncodesKeyAsBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "hsm-1", body["hsm_id"])
		require.NotEmpty(t, body["hsm_key_b64"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"hsm_id": "hsm-1"})
	}))
	defer srv.Close()

	c := NewAdminClient(srv.URL)
	require.NoError(t, c.CreateATM("hsm-1", []byte("some-hsm-key")))
}

func TestNonOKStatusSurfacesAdminError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "account or card_id already exists"})
	}))
	defer srv.Close()

	c := NewAdminClient(srv.URL)
	err := c.CreateAccount("alice", "card-1", 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}
