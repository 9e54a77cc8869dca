// Package rpc defines the host<->guest Request/Response envelopes and their
// wire encoding, built on top of the wire package's self-describing codec
// and transport's length-framed connections.
package rpc

import (
	"github.com/oriys/capsule/internal/sandboxerr"
	"github.com/oriys/capsule/internal/transport"
	"github.com/oriys/capsule/internal/wire"
)

// InstallCommand is the in-band command name that provisions dependencies
// instead of invoking a function.
const InstallCommand = "install"

// Request is one RPC call: either an invocation (FunctionRef set, Command
// empty) or a dependency install (Command == InstallCommand, Dependencies
// consulted instead of FunctionRef/Args/Kwargs).
type Request struct {
	RequestID    string
	FunctionRef  string
	Args         []any
	Kwargs       map[string]any
	TimeoutMs    uint32
	Command      string
	Dependencies []string
}

// RemoteError is the reconstructed (type, message, traceback) triple a
// guest-side failure travels as.
type RemoteError struct {
	Type      string
	Message   string
	Traceback string
}

// Response is one RPC reply. Error is non-nil iff Success is false.
type Response struct {
	RequestID string
	Success   bool
	Result    any
	Error     *RemoteError
}

func EncodeRequest(req Request) ([]byte, error) {
	m := map[string]any{
		"request_id": req.RequestID,
		"timeout_ms": int64(req.TimeoutMs),
	}
	if req.Command != "" {
		m["command"] = req.Command
		deps := make([]any, len(req.Dependencies))
		for i, d := range req.Dependencies {
			deps[i] = d
		}
		m["dependencies"] = deps
	} else {
		m["function_ref"] = req.FunctionRef
		args := make([]any, len(req.Args))
		copy(args, req.Args)
		m["args"] = args
		kwargs := map[string]any{}
		for k, v := range req.Kwargs {
			kwargs[k] = v
		}
		m["kwargs"] = kwargs
	}
	return wire.Encode(m)
}

func DecodeRequest(payload []byte) (Request, error) {
	v, err := wire.Decode(payload)
	if err != nil {
		return Request{}, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Request{}, sandboxerr.New(sandboxerr.KindWireError, "request envelope is not a mapping")
	}
	req := Request{
		RequestID: asString(m["request_id"]),
		TimeoutMs: uint32(asInt(m["timeout_ms"])),
	}
	if cmd, ok := m["command"].(string); ok && cmd != "" {
		req.Command = cmd
		for _, d := range asSequence(m["dependencies"]) {
			req.Dependencies = append(req.Dependencies, asString(d))
		}
		return req, nil
	}
	req.FunctionRef = asString(m["function_ref"])
	req.Args = asSequence(m["args"])
	if kw, ok := m["kwargs"].(map[string]any); ok {
		req.Kwargs = kw
	} else {
		req.Kwargs = map[string]any{}
	}
	return req, nil
}

func EncodeResponse(resp Response) ([]byte, error) {
	m := map[string]any{
		"request_id": resp.RequestID,
		"success":    resp.Success,
	}
	if resp.Success {
		m["result"] = resp.Result
		m["error"] = nil
	} else {
		m["result"] = nil
		errMap := map[string]any{
			"type":      "",
			"message":   "",
			"traceback": "",
		}
		if resp.Error != nil {
			errMap["type"] = resp.Error.Type
			errMap["message"] = resp.Error.Message
			errMap["traceback"] = resp.Error.Traceback
		}
		m["error"] = errMap
	}
	return wire.Encode(m)
}

func DecodeResponse(payload []byte) (Response, error) {
	v, err := wire.Decode(payload)
	if err != nil {
		return Response{}, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Response{}, sandboxerr.New(sandboxerr.KindWireError, "response envelope is not a mapping")
	}
	resp := Response{
		RequestID: asString(m["request_id"]),
		Success:   asBool(m["success"]),
	}
	if resp.Success {
		resp.Result = m["result"]
		return resp, nil
	}
	if em, ok := m["error"].(map[string]any); ok {
		resp.Error = &RemoteError{
			Type:      asString(em["type"]),
			Message:   asString(em["message"]),
			Traceback: asString(em["traceback"]),
		}
	}
	return resp, nil
}

// SendRequest frames and writes an encoded Request onto conn.
func SendRequest(conn transport.Conn, req Request) error {
	payload, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	return conn.Send(payload)
}

// RecvRequest reads and decodes one Request from conn.
func RecvRequest(conn transport.Conn) (Request, error) {
	payload, err := conn.Recv()
	if err != nil {
		return Request{}, err
	}
	return DecodeRequest(payload)
}

// SendResponse frames and writes an encoded Response onto conn.
func SendResponse(conn transport.Conn, resp Response) error {
	payload, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return conn.Send(payload)
}

// RecvResponse reads and decodes one Response from conn.
func RecvResponse(conn transport.Conn) (Response, error) {
	payload, err := conn.Recv()
	if err != nil {
		return Response{}, err
	}
	return DecodeResponse(payload)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asSequence(v any) []any {
	seq, _ := v.([]any)
	return seq
}
