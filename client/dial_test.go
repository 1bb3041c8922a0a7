package main

import (
	"testing"

	"github.com/rdtproto/rdt/rconn"
)

func TestDialResolvesRemoteAddress(t *testing.T) {
	config := &Config{RemoteAddr: "127.0.0.1:0"}
	s, err := dial(config, rconn.DefaultConfig())
	if err != nil {
		t.Fatalf("dial returned error: %v", err)
	}
	defer s.Close()
}

func TestDialRejectsMalformedAddress(t *testing.T) {
	config := &Config{RemoteAddr: "not-an-address"}
	if _, err := dial(config, rconn.DefaultConfig()); err == nil {
		t.Fatalf("expected error for malformed remote address")
	}
}
