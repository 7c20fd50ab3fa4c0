package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is api",
			check:  func(c *Config) bool { return c.Mode == "api" },
			expect: "api",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default rate limit",
			check:  func(c *Config) bool { return c.RateLimitPerMinute == 10 },
			expect: "10",
		},
		{
			name:   "default token query param",
			check:  func(c *Config) bool { return c.TokenQueryParam == "token" },
			expect: "token",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
		{
			name:   "ack url joins base and token",
			check:  func(c *Config) bool { return c.AckURL("abc") == "http://localhost:8080/a/abc" },
			expect: "http://localhost:8080/a/abc",
		},
		{
			name:   "admin key empty by default",
			check:  func(c *Config) bool { return c.AdminAPIKey == "" },
			expect: "",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestLoadRejectsOutOfRangeRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for RATE_LIMIT_PER_MINUTE=0")
	}
	t.Setenv("RATE_LIMIT_PER_MINUTE", "1001")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for RATE_LIMIT_PER_MINUTE=1001")
	}
}

func TestChannelViews(t *testing.T) {
	t.Setenv("ZAMMAD_BASE_URL", "https://tickets.example.org/")
	t.Setenv("ZAMMAD_API_TOKEN", "tok")
	t.Setenv("SENDXMS_ENABLED", "true")
	t.Setenv("SIGNAL_ENABLED", "true")
	t.Setenv("WEBHOOK_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	z := cfg.Zammad()
	if !z.Enabled() {
		t.Error("zammad should be enabled when a token is set")
	}
	if z.BaseURL != "https://tickets.example.org" {
		t.Errorf("trailing slash not trimmed: %q", z.BaseURL)
	}
	if cfg.SMS().Enabled {
		t.Error("sms must stay disabled without an api key")
	}
	if cfg.Signal().Enabled {
		t.Error("signal must stay disabled without a group id")
	}
	if cfg.Webhook().Enabled {
		t.Error("webhook must stay disabled without a url")
	}
}
