package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func loadWith(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for k, v := range env {
		t.Setenv(k, v)
	}
	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWith(t, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scanner.ClaimTimeout != 2*time.Minute {
		t.Errorf("claim timeout = %s, want 2m", cfg.Scanner.ClaimTimeout)
	}
	if cfg.Scanner.ClaimTimeout <= cfg.Telegram.DeliveryTimeout {
		t.Errorf("default claim timeout %s does not exceed delivery timeout %s",
			cfg.Scanner.ClaimTimeout, cfg.Telegram.DeliveryTimeout)
	}
}

func TestLoad_ClaimTimeoutMustExceedDeliveryTimeout(t *testing.T) {
	tests := []struct {
		name     string
		claim    string
		delivery string
		wantErr  bool
	}{
		{name: "claim longer than delivery", claim: "1m", delivery: "10s"},
		{name: "claim equal to delivery", claim: "10s", delivery: "10s", wantErr: true},
		{name: "claim shorter than delivery", claim: "5s", delivery: "30s", wantErr: true},
		{name: "claim disabled", claim: "0s", delivery: "10s", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWith(t, map[string]string{
				"SCANNER_CLAIM_TIMEOUT":     tt.claim,
				"TELEGRAM_DELIVERY_TIMEOUT": tt.delivery,
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "claim timeout") {
				t.Errorf("error %q does not name the claim timeout", err)
			}
		})
	}
}

func TestLoad_RejectsMismatchedDedupBackend(t *testing.T) {
	_, err := loadWith(t, map[string]string{
		"DB_DRIVER":     "memory",
		"DEDUP_BACKEND": "postgres",
	})
	if err == nil {
		t.Fatal("Load() accepted a postgres dedup backend without the postgres driver")
	}
}
