package websocket

import (
	"errors"
	"testing"
)

func TestExtractAckSplitsTrailingCallback(t *testing.T) {
	called := false
	cb := func(err any, status string) { called = true }

	ack, args := extractAck([]any{"doc-1", "payload", cb})
	if ack == nil {
		t.Fatal("trailing function was not recognized as an ack")
	}
	if len(args) != 2 || args[0] != "doc-1" || args[1] != "payload" {
		t.Errorf("args = %v, want the data arguments without the callback", args)
	}
	ack(nil, "saved")
	if !called {
		t.Error("ack invoker did not call the callback")
	}
}

func TestExtractAckWithoutCallback(t *testing.T) {
	ack, args := extractAck([]any{"doc-1", "payload"})
	if ack != nil {
		t.Error("non-function trailing argument treated as an ack")
	}
	if len(args) != 2 {
		t.Errorf("args = %v, want all data arguments preserved", args)
	}

	ack, args = extractAck(nil)
	if ack != nil || args != nil {
		t.Error("empty argument list must yield no ack and no args")
	}
}

func TestWrapAckTwoParamContract(t *testing.T) {
	var gotErr any
	var gotStatus string
	ack := wrapAck(func(err any, status string) {
		gotErr = err
		gotStatus = status
	})
	if ack == nil {
		t.Fatal("wrapAck returned nil for a valid callback")
	}

	ack(nil, "saved")
	if gotErr != nil || gotStatus != "saved" {
		t.Errorf("ack(nil, saved) delivered (%v, %q)", gotErr, gotStatus)
	}

	ack(errors.New("boom"), "error")
	if gotErr != "boom" || gotStatus != "error" {
		t.Errorf("ack(err, error) delivered (%v, %q)", gotErr, gotStatus)
	}
}

func TestWrapAckSingleParam(t *testing.T) {
	var got string
	ack := wrapAck(func(result string) { got = result })

	ack(nil, "saved")
	if got != "saved" {
		t.Errorf("single-param ack received %q, want the status", got)
	}

	ack(errors.New("boom"), "error")
	if got != "boom" {
		t.Errorf("single-param ack received %q, want the error text", got)
	}
}

func TestWrapAckRejectsNonFunctions(t *testing.T) {
	for _, candidate := range []any{nil, "string", 42, map[string]any{}} {
		if wrapAck(candidate) != nil {
			t.Errorf("wrapAck(%v) accepted a non-function", candidate)
		}
	}
}
