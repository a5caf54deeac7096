package rpc

import (
	"encoding/base64"
	"fmt"
)

// Client is a thin typed wrapper over Call for the methods an ATM's
// AtmOrchestrator needs from the bank.
type Client struct {
	Addr string
}

// NewClient returns a Client that dials addr fresh for every call.
func NewClient(addr string) *Client {
	return &Client{Addr: addr}
}

func (c *Client) call(method string, args ...interface{}) (*Response, error) {
	resp, err := Call(c.Addr, Request{Method: method, Args: args})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func decodeB64Result(resp *Response) ([]byte, error) {
	s, ok := resp.Result.(string)
	if !ok {
		return nil, fmt.Errorf("rpc: result was not a base64 string")
	}
	return base64.StdEncoding.DecodeString(s)
}

// GetNonce requests a fresh challenge nonce for cardID.
func (c *Client) GetNonce(cardID string) ([]byte, error) {
	resp, err := c.call("get_nonce", cardID)
	if err != nil {
		return nil, err
	}
	return decodeB64Result(resp)
}

// CheckBalance submits a signed balance inquiry and returns the
// HSM-targeted ciphertext the bank produced.
func (c *Client) CheckBalance(cardID string, nonce, sig []byte, hsmID string, hsmNonce []byte) ([]byte, error) {
	resp, err := c.call("check_balance", cardID, b64(nonce), b64(sig), hsmID, b64(hsmNonce))
	if err != nil {
		return nil, err
	}
	return decodeB64Result(resp)
}

// Withdraw submits a signed withdrawal request and returns the
// HSM-targeted ciphertext authorizing bill dispensing.
func (c *Client) Withdraw(cardID string, nonce, sig []byte, hsmID string, hsmNonce []byte, amount int64) ([]byte, error) {
	resp, err := c.call("withdraw", cardID, b64(nonce), b64(sig), hsmID, b64(hsmNonce), amount)
	if err != nil {
		return nil, err
	}
	return decodeB64Result(resp)
}

// ChangePIN submits a signed key-replacement request.
func (c *Client) ChangePIN(cardID string, nonce, sig, newPK []byte) error {
	resp, err := c.call("change_pin", cardID, b64(nonce), b64(sig), b64(newPK))
	if err != nil {
		return err
	}
	if s, ok := resp.Result.(string); !ok || s != "OKAY" {
		return fmt.Errorf("rpc: change_pin: unexpected result %v", resp.Result)
	}
	return nil
}

// SetFirstPK is the provisioning-time write-once key registration call.
func (c *Client) SetFirstPK(cardID string, pk []byte) error {
	_, err := c.call("set_first_pk", cardID, b64(pk))
	return err
}

// SetInitialNumBills is the provisioning-time write-once bill-count call.
func (c *Client) SetInitialNumBills(hsmID string, numBills int64) error {
	_, err := c.call("set_initial_num_bills", hsmID, numBills)
	return err
}
