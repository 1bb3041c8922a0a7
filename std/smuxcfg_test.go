package std

import (
	"testing"

	"github.com/rdtproto/rdt/wire"
)

func TestBuildSmuxConfigClampsFrameSize(t *testing.T) {
	cfg, err := BuildSmuxConfig(2, 4194304, 2097152, 8192, 10)
	if err != nil {
		t.Fatalf("BuildSmuxConfig: %v", err)
	}
	if cfg.MaxFrameSize != wire.MaxPayloadSize {
		t.Fatalf("MaxFrameSize = %d, want clamped to %d", cfg.MaxFrameSize, wire.MaxPayloadSize)
	}
}

func TestBuildSmuxConfigKeepsSmallFrameSize(t *testing.T) {
	cfg, err := BuildSmuxConfig(1, 4194304, 2097152, 512, 10)
	if err != nil {
		t.Fatalf("BuildSmuxConfig: %v", err)
	}
	if cfg.MaxFrameSize != 512 {
		t.Fatalf("MaxFrameSize = %d, want 512", cfg.MaxFrameSize)
	}
}

func TestBuildSmuxConfigDisablesKeepAlive(t *testing.T) {
	cfg, err := BuildSmuxConfig(2, 4194304, 2097152, 512, 0)
	if err != nil {
		t.Fatalf("BuildSmuxConfig: %v", err)
	}
	if !cfg.KeepAliveDisabled {
		t.Fatal("keep-alive not disabled for a non-positive interval")
	}
}

func TestBuildSmuxConfigStretchesKeepAliveTimeout(t *testing.T) {
	cfg, err := BuildSmuxConfig(2, 4194304, 2097152, 512, 60)
	if err != nil {
		t.Fatalf("BuildSmuxConfig: %v", err)
	}
	if cfg.KeepAliveTimeout < cfg.KeepAliveInterval {
		t.Fatalf("KeepAliveTimeout %v < KeepAliveInterval %v", cfg.KeepAliveTimeout, cfg.KeepAliveInterval)
	}
}

func TestBuildSmuxConfigRejectsBadVersion(t *testing.T) {
	if _, err := BuildSmuxConfig(3, 4194304, 2097152, 512, 10); err == nil {
		t.Fatal("expected an error for an unsupported smux version")
	}
}
