package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

func unmarshalRequest(payload []byte, req *Request) error {
	if err := json.Unmarshal(payload, req); err != nil {
		return fmt.Errorf("rpc: malformed request: %w", err)
	}
	return nil
}

func marshalResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

func writeErrorResponse(w io.Writer, err error) {
	payload, _ := marshalResponse(errResponse(err))
	writeFrame(w, payload)
}

func argString(args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", errMissingArg
	}
	s, ok := args[i].(string)
	if !ok {
		return "", errMissingArg
	}
	return s, nil
}

func argInt(args []interface{}, i int) (int64, error) {
	if i >= len(args) {
		return 0, errMissingArg
	}
	switch v := args[i].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, errMissingArg
	}
}

// argBytes reads a base64-encoded binary argument.
func argBytes(args []interface{}, i int) ([]byte, error) {
	s, err := argString(args, i)
	if err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("rpc: decode argument %d: %w", i, err)
	}
	return b, nil
}
