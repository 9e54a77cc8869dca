package rpc

import "testing"

func TestRequestRoundTrip(t *testing.T) {
	req := Request{
		RequestID:   "11111111-1111-4111-8111-111111111111",
		FunctionRef: "handlers:simple_add",
		Args:        []any{int64(1), int64(2)},
		Kwargs:      map[string]any{},
		TimeoutMs:   1000,
	}
	payload, err := EncodeRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeRequest(payload)
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != req.RequestID || got.FunctionRef != req.FunctionRef || got.TimeoutMs != req.TimeoutMs {
		t.Fatalf("mismatch: got %+v want %+v", got, req)
	}
}

func TestInstallRequestRoundTrip(t *testing.T) {
	req := Request{
		RequestID:    "id",
		Command:      InstallCommand,
		Dependencies: []string{"numpy", "pandas"},
		TimeoutMs:    300000,
	}
	payload, err := EncodeRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeRequest(payload)
	if err != nil {
		t.Fatal(err)
	}
	if got.Command != InstallCommand || len(got.Dependencies) != 2 {
		t.Fatalf("unexpected decode: %+v", got)
	}
}

func TestResponseRoundTripSuccessAndFailure(t *testing.T) {
	ok := Response{RequestID: "id", Success: true, Result: int64(3)}
	payload, err := EncodeResponse(ok)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeResponse(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Success || got.RequestID != "id" {
		t.Fatalf("unexpected: %+v", got)
	}

	fail := Response{
		RequestID: "id2",
		Success:   false,
		Error:     &RemoteError{Type: "TimeoutError", Message: "sandbox timed out", Traceback: "trace"},
	}
	payload2, err := EncodeResponse(fail)
	if err != nil {
		t.Fatal(err)
	}
	got2, err := DecodeResponse(payload2)
	if err != nil {
		t.Fatal(err)
	}
	if got2.Success || got2.Error == nil || got2.Error.Type != "TimeoutError" {
		t.Fatalf("unexpected: %+v", got2)
	}
}

func TestRequestIDEchoedAcrossRequestResponse(t *testing.T) {
	req := Request{RequestID: "abc-123", FunctionRef: "m:f", Kwargs: map[string]any{}, TimeoutMs: 1000}
	reqPayload, err := EncodeRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	gotReq, err := DecodeRequest(reqPayload)
	if err != nil {
		t.Fatal(err)
	}
	resp := Response{RequestID: gotReq.RequestID, Success: true, Result: nil}
	respPayload, err := EncodeResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	gotResp, err := DecodeResponse(respPayload)
	if err != nil {
		t.Fatal(err)
	}
	if gotResp.RequestID != req.RequestID {
		t.Fatal("request_id must be echoed")
	}
}
