package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tristanlee/substrate/internal/logging"
)

const jsonrpcVersion = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func invalidParams(format string, args ...any) *Error {
	return &Error{Code: codeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

type request struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *request) isNotification() bool {
	return len(r.ID) == 0
}

type response struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func errorResponse(id json.RawMessage, err *Error) *response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &response{Version: jsonrpcVersion, ID: id, Error: err}
}

// handleMessage processes a single or batch payload. It returns nil when
// nothing needs to be sent back, which happens when every call was a
// notification.
func (s *Server) handleMessage(body []byte) []byte {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		return s.handleBatch(body)
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		return mustMarshal(errorResponse(nil, &Error{Code: codeParseError, Message: "parse error"}))
	}
	resp := s.call(&req)
	if resp == nil {
		return nil
	}
	return mustMarshal(resp)
}

func (s *Server) handleBatch(body []byte) []byte {
	var reqs []json.RawMessage
	if err := json.Unmarshal(body, &reqs); err != nil {
		return mustMarshal(errorResponse(nil, &Error{Code: codeParseError, Message: "parse error"}))
	}
	if len(reqs) == 0 {
		return mustMarshal(errorResponse(nil, &Error{Code: codeInvalidRequest, Message: "empty batch"}))
	}
	if len(reqs) > s.cfg.MaxBatch {
		return mustMarshal(errorResponse(nil, &Error{
			Code:    codeInvalidRequest,
			Message: fmt.Sprintf("batch of %d exceeds limit %d", len(reqs), s.cfg.MaxBatch),
		}))
	}

	responses := make([]*response, 0, len(reqs))
	for _, raw := range reqs {
		var req request
		if err := json.Unmarshal(raw, &req); err != nil {
			responses = append(responses, errorResponse(nil, &Error{Code: codeInvalidRequest, Message: "invalid request"}))
			continue
		}
		if resp := s.call(&req); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	return mustMarshal(responses)
}

// call runs one request. Returns nil for notifications.
func (s *Server) call(req *request) *response {
	if req.Version != jsonrpcVersion || req.Method == "" {
		return errorResponse(req.ID, &Error{Code: codeInvalidRequest, Message: "invalid request"})
	}

	label := req.Method
	if _, known := s.methods[label]; !known {
		label = "unknown"
	}

	start := time.Now()
	result, rpcErr := s.invoke(req)
	s.metrics.observe(label, rpcErr, time.Since(start))

	if req.isNotification() {
		return nil
	}
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		logging.Error("Failed to encode result of %s: %v", req.Method, err)
		return errorResponse(req.ID, &Error{Code: codeInternalError, Message: "internal error"})
	}
	return &response{Version: jsonrpcVersion, ID: req.ID, Result: encoded}
}

func (s *Server) invoke(req *request) (result any, rpcErr *Error) {
	m, ok := s.methods[req.Method]
	if !ok {
		return nil, &Error{Code: codeMethodNotFound, Message: fmt.Sprintf("method %s not found", req.Method)}
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Panic in rpc method %s: %v", req.Method, r)
			result, rpcErr = nil, &Error{Code: codeInternalError, Message: "internal error"}
		}
	}()

	var params []json.RawMessage
	if len(req.Params) > 0 && !bytes.Equal(req.Params, []byte("null")) {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, invalidParams("params must be an array")
		}
	}

	res, err := m.fn(params)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, e
		}
		return nil, &Error{Code: codeInternalError, Message: err.Error()}
	}
	return res, nil
}

func mustMarshal(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		// Only reachable for a malformed response value
		panic(fmt.Sprintf("encode rpc response: %v", err))
	}
	return out
}
