package config

import (
	"os"
	"testing"
	"time"

	"vrhostd/internal/settings"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PreferredRefreshHz != 72 {
		t.Fatalf("expected default preferred refresh 72, got %v", cfg.PreferredRefreshHz)
	}
	if cfg.KeepaliveInterval != time.Second {
		t.Fatalf("expected default keepalive interval 1s, got %v", cfg.KeepaliveInterval)
	}
	if cfg.VideoScaleMode != settings.ScaleMode {
		t.Fatalf("expected default video scale mode ScaleMode, got %v", cfg.VideoScaleMode)
	}
	if cfg.VideoScale != 1.0 {
		t.Fatalf("expected default video scale 1.0, got %v", cfg.VideoScale)
	}
}

func TestGetEnvVideoScaleMode(t *testing.T) {
	t.Setenv("VRHOSTD_VIDEO_SCALE_MODE", "absolute")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VideoScaleMode != settings.AbsoluteMode {
		t.Fatalf("expected AbsoluteMode, got %v", cfg.VideoScaleMode)
	}
	os.Unsetenv("VRHOSTD_VIDEO_SCALE_MODE")

	if GetEnvVideoScaleMode("VRHOSTD_VIDEO_SCALE_MODE_UNSET", settings.ScaleMode) != settings.ScaleMode {
		t.Fatal("expected default ScaleMode when unset")
	}
}

func TestGetEnvOverride(t *testing.T) {
	t.Setenv("VRHOSTD_WEB_PORT", "9090")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WebPort != 9090 {
		t.Fatalf("expected overridden web port 9090, got %v", cfg.WebPort)
	}
}

func TestGetEnvBoolInvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("VRHOSTD_AUTO_TRUST_CLIENTS", "not-a-bool")
	if GetEnvBool("VRHOSTD_AUTO_TRUST_CLIENTS", false) != false {
		t.Fatal("expected invalid bool to fall back to default")
	}
	os.Unsetenv("VRHOSTD_AUTO_TRUST_CLIENTS")
}
