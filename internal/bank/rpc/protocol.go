// Package rpc implements the bank's customer-facing RPC surface: one TCP
// connection per call, a 4-byte big-endian length header followed by a
// JSON envelope, grounded on the teacher's CGMinerClient.SendCommand
// request/response shape but framed with an explicit length prefix instead
// of a null terminator, since the envelope here carries base64 binary
// payloads that could otherwise collide with a null byte.
package rpc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultTimeout bounds how long a single RPC call-out may block.
const DefaultTimeout = 10 * time.Second

// maxFrameLen guards against a corrupt or hostile length header asking for
// an unreasonable allocation.
const maxFrameLen = 1 << 20

// Request is the wire envelope a client sends.
type Request struct {
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
}

// Response is the wire envelope a server sends back.
type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// writeFrame writes a 4-byte big-endian length prefix followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("rpc: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("rpc: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("rpc: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("rpc: frame length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("rpc: read frame payload: %w", err)
	}
	return buf, nil
}

// Call opens a fresh connection to addr, sends one request, and reads back
// exactly one response. The bank RPC surface is call-per-connection, like
// the teacher's SendCommand, rather than a persistent multiplexed session.
func Call(addr string, req Request) (*Response, error) {
	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(DefaultTimeout))

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}
	if err := writeFrame(conn, payload); err != nil {
		return nil, err
	}

	respBytes, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("rpc: unmarshal response: %w", err)
	}
	return &resp, nil
}
