// Package adminapi exposes the bank's operator-facing admin surface as a
// gin HTTP API, separate from the customer-facing length-prefixed RPC
// protocol in internal/bank/rpc: account creation, balance management,
// and ATM registration.
package adminapi

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"atmcore/internal/bank/verifier"
)

func decodeHSMKey(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Server wraps a gin.Engine bound to the bank's verification core.
type Server struct {
	engine   *gin.Engine
	verifier *verifier.Verifier
	ready    bool
}

// NewServer builds the admin router. ready reflects whether the bank
// considers itself ready to accept ATM connections (spec's
// "ready_for_atm" introspection call).
func NewServer(v *verifier.Verifier) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{engine: gin.New(), verifier: v}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// MarkReady flips the bank's readiness flag, normally called once startup
// (schema migration, RPC listener bind) has finished.
func (s *Server) MarkReady() { s.ready = true }

func (s *Server) routes() {
	admin := s.engine.Group("/admin")
	{
		admin.GET("/ready", s.handleReady)
		admin.POST("/accounts", s.handleCreateAccount)
		admin.GET("/accounts/:name/balance", s.handleGetBalance)
		admin.PUT("/accounts/:name/balance", s.handleSetBalance)
		admin.POST("/atms", s.handleCreateATM)
	}
}

// Handler returns the underlying http.Handler, for embedding in an
// *http.Server that wants explicit lifecycle control (graceful shutdown).
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ready": s.ready})
}

type createAccountRequest struct {
	AccountName string `json:"account_name" binding:"required"`
	CardID      string `json:"card_id" binding:"required"`
	Balance     int64  `json:"balance"`
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ok, err := s.verifier.AdminCreateAccount(c.Request.Context(), req.AccountName, req.CardID, req.Balance)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "account or card_id already exists"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account_name": req.AccountName, "card_id": req.CardID})
}

func (s *Server) handleGetBalance(c *gin.Context) {
	name := c.Param("name")
	balance, ok, err := s.verifier.AdminGetBalance(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_name": name, "balance": balance})
}

type setBalanceRequest struct {
	Balance int64 `json:"balance"`
}

func (s *Server) handleSetBalance(c *gin.Context) {
	name := c.Param("name")
	var req setBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ok, err := s.verifier.AdminSetBalance(c.Request.Context(), name, req.Balance)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_name": name, "balance": req.Balance})
}

type createATMRequest struct {
	HSMID  string `json:"hsm_id" binding:"required"`
	HSMKey string `json:"hsm_key_b64" binding:"required"`
}

func (s *Server) handleCreateATM(c *gin.Context) {
	var req createATMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	key, err := decodeHSMKey(req.HSMKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hsm_key_b64"})
		return
	}

	ok, err := s.verifier.AdminCreateATM(c.Request.Context(), req.HSMID, key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "hsm_id already exists"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"hsm_id": req.HSMID})
}
