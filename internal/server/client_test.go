package server

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClient_Resolve(t *testing.T) {
	c, err := Dial(startServer(t), testKey)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, err := c.Resolve(ctx, "how do I migrate to strict concurrency checking", map[string]any{"swift-version": "6"}, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if m["contract_status"] != "ok" {
		t.Errorf("expected ok, got %v", m)
	}
}

func TestClient_WrongKey(t *testing.T) {
	c, err := Dial(startServer(t), "rtk_not_the_right_key_000000")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.Resolve(ctx, "actors", nil, false); status.Code(err) != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", status.Code(err))
	}
}
