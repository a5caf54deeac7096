// Package client is an HTTP client for internal/bank/adminapi, for
// operator tooling that needs the admin surface rather than the raw
// bank/rpc protocol. No command in this repository imports it.
package client

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AdminClient talks to one bankd process's admin HTTP surface.
type AdminClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAdminClient builds a client against baseURL (e.g. "http://localhost:7701").
func NewAdminClient(baseURL string) *AdminClient {
	return &AdminClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Ready calls GET /admin/ready.
func (c *AdminClient) Ready() (bool, error) {
	var result struct {
		Ready bool `json:"ready"`
	}
	resp, err := c.get("/admin/ready")
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(*resp, &result); err != nil {
		return false, fmt.Errorf("client: decode ready response: %w", err)
	}
	return result.Ready, nil
}

// CreateAccount calls POST /admin/accounts.
func (c *AdminClient) CreateAccount(accountName, cardID string, balance int64) error {
	_, err := c.post("/admin/accounts", map[string]interface{}{
		"account_name": accountName,
		"card_id":      cardID,
		"balance":      balance,
	})
	return err
}

// GetBalance calls GET /admin/accounts/:name/balance.
func (c *AdminClient) GetBalance(accountName string) (int64, error) {
	var result struct {
		Balance int64 `json:"balance"`
	}
	resp, err := c.get("/admin/accounts/" + accountName + "/balance")
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(*resp, &result); err != nil {
		return 0, fmt.Errorf("client: decode balance response: %w", err)
	}
	return result.Balance, nil
}

// SetBalance calls PUT /admin/accounts/:name/balance.
func (c *AdminClient) SetBalance(accountName string, balance int64) error {
	_, err := c.put("/admin/accounts/"+accountName+"/balance", map[string]interface{}{
		"balance": balance,
	})
	return err
}

// CreateATM calls POST /admin/atms with a base64-encoded HSM key.
func (c *AdminClient) CreateATM(hsmID string, hsmKey []byte) error {
	_, err := c.post("/admin/atms", map[string]interface{}{
		"hsm_id":      hsmID,
		"hsm_key_b64": base64.StdEncoding.EncodeToString(hsmKey),
	})
	return err
}

func (c *AdminClient) post(endpoint string, data interface{}) (*json.RawMessage, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("client: marshal request: %w", err)
	}
	resp, err := c.HTTPClient.Post(c.BaseURL+endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: request %s: %w", endpoint, err)
	}
	return c.decode(endpoint, resp)
}

func (c *AdminClient) put(endpoint string, data interface{}) (*json.RawMessage, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("client: marshal request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPut, c.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: build request %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: request %s: %w", endpoint, err)
	}
	return c.decode(endpoint, resp)
}

func (c *AdminClient) get(endpoint string) (*json.RawMessage, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("client: request %s: %w", endpoint, err)
	}
	return c.decode(endpoint, resp)
}

// decode reads the response body, surfaces non-2xx statuses as errors
// with whatever error message the admin API returned, and unmarshals the
// remainder as a raw JSON value for the caller to further decode.
func (c *AdminClient) decode(endpoint string, resp *http.Response) (*json.RawMessage, error) {
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("client: %s: %d %s", endpoint, resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("client: %s: status %d", endpoint, resp.StatusCode)
	}

	var result json.RawMessage
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("client: decode response from %s: %w", endpoint, err)
	}
	return &result, nil
}
