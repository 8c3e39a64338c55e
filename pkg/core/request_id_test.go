package core

import (
	"context"
	"testing"
)

func TestWithMessageID(t *testing.T) {
	ctx := WithMessageID(context.Background(), "msg-1")

	if got := GetMessageID(ctx); got != "msg-1" {
		t.Errorf("GetMessageID() = %v, want msg-1", got)
	}
}

func TestWithSessionID(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess-1")

	if got := GetSessionID(ctx); got != "sess-1" {
		t.Errorf("GetSessionID() = %v, want sess-1", got)
	}
	if got := GetMessageID(ctx); got != "" {
		t.Errorf("GetMessageID() = %v, want empty string", got)
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(WithSessionID(context.Background(), "sess-1"), "req-1")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %v, want req-1", got)
	}
	if got := GetSessionID(ctx); got != "sess-1" {
		t.Errorf("GetSessionID() = %v, want sess-1", got)
	}
}

func TestGetIDs_Empty(t *testing.T) {
	ctx := context.Background()

	if id := GetSessionID(ctx); id != "" {
		t.Errorf("GetSessionID() = %v, want empty string", id)
	}
	if id := GetMessageID(ctx); id != "" {
		t.Errorf("GetMessageID() = %v, want empty string", id)
	}
}

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if id1 == "" || id2 == "" {
		t.Fatal("GenerateID() returned empty string")
	}
	if id1 == id2 {
		t.Error("GenerateID() should generate unique IDs")
	}
}
