package main

import (
	"testing"

	"github.com/rdtproto/rdt/rconn"
)

func TestListenBindsLocalAddress(t *testing.T) {
	config := &Config{Listen: "127.0.0.1:0"}
	lis, pc, err := listen(config, rconn.DefaultConfig())
	if err != nil {
		t.Fatalf("listen returned error: %v", err)
	}
	defer pc.Close()
	defer lis.Close()

	if pc.LocalAddr() == nil {
		t.Fatalf("expected a bound local address")
	}
}

func TestListenRejectsMalformedAddress(t *testing.T) {
	config := &Config{Listen: "not-an-address"}
	if _, _, err := listen(config, rconn.DefaultConfig()); err == nil {
		t.Fatalf("expected error for malformed listen address")
	}
}
