package config

import (
	"testing"
	"time"
)

// pairlockEnvVars lists all env vars that must be cleared between tests.
var pairlockEnvVars = []string{
	"PAIRLOCK_DATABASE_URL", "PAIRLOCK_SOCKET", "PAIRLOCK_LISTEN",
	"PAIRLOCK_SESSION_KEY", "PAIRLOCK_ALLOWED_IPS", "PAIRLOCK_NATS_URL",
	"PAIRLOCK_WEBHOOK_URL", "PAIRLOCK_DESKTOP_NOTIFY", "PAIRLOCK_NOTIFY_INTERVAL",
	"PAIRLOCK_REQUEST_TIMEOUT", "PAIRLOCK_ARCHIVE_INTERVAL", "PAIRLOCK_ARCHIVE_FILE",
	"PAIRLOCK_ARCHIVE_S3_BUCKET", "PAIRLOCK_ARCHIVE_S3_ENDPOINT",
	"PAIRLOCK_ARCHIVE_S3_REGION", "PAIRLOCK_ARCHIVE_S3_PREFIX",
	"PAIRLOCK_ARCHIVE_GIT_REPO", "PAIRLOCK_ARCHIVE_GIT_FILE",
	"PAIRLOCK_ARCHIVE_GIT_BRANCH", "PAIRLOCK_MAX_PENDING_PER_SESSION",
	"PAIRLOCK_MAX_REQUESTS_PER_MINUTE", "PAIRLOCK_RATE_LIMIT_WARN_ONLY",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range pairlockEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name           string
		env            map[string]string
		wantErr        bool
		wantListenAddr string
		wantNATSURL    string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "MinimalConfig",
			env:  map[string]string{"PAIRLOCK_DATABASE_URL": "postgres://localhost/pairlock"},
		},
		{
			name: "ListenWithoutSessionKey",
			env: map[string]string{
				"PAIRLOCK_DATABASE_URL": "postgres://localhost/pairlock",
				"PAIRLOCK_LISTEN":       "0.0.0.0:7433",
			},
			wantErr: true,
		},
		{
			name: "RemoteListener",
			env: map[string]string{
				"PAIRLOCK_DATABASE_URL": "postgres://db:5432/pairlock",
				"PAIRLOCK_LISTEN":       "0.0.0.0:7433",
				"PAIRLOCK_SESSION_KEY":  "shared-key",
				"PAIRLOCK_NATS_URL":     "nats://localhost:4222",
			},
			wantListenAddr: "0.0.0.0:7433",
			wantNATSURL:    "nats://localhost:4222",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["PAIRLOCK_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["PAIRLOCK_DATABASE_URL"])
			}
			if cfg.ListenAddr != tc.wantListenAddr {
				t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, tc.wantListenAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
			if cfg.SocketPath == "" {
				t.Error("SocketPath should have a default")
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("PAIRLOCK_DATABASE_URL", "postgres://localhost/pairlock")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NotifyInterval != 30*time.Second {
		t.Errorf("NotifyInterval = %v, want 30s", cfg.NotifyInterval)
	}
	if cfg.RequestTimeout != time.Hour {
		t.Errorf("RequestTimeout = %v, want 1h", cfg.RequestTimeout)
	}
	if cfg.ArchiveInterval != 10*time.Minute {
		t.Errorf("ArchiveInterval = %v, want 10m", cfg.ArchiveInterval)
	}
	if cfg.ArchiveS3Region != "us-east-1" {
		t.Errorf("ArchiveS3Region = %q, want %q", cfg.ArchiveS3Region, "us-east-1")
	}
	if cfg.ArchiveS3Prefix != "pairlock/requests" {
		t.Errorf("ArchiveS3Prefix = %q", cfg.ArchiveS3Prefix)
	}
	if cfg.ArchiveGitFile != "requests.jsonl" {
		t.Errorf("ArchiveGitFile = %q", cfg.ArchiveGitFile)
	}
	if cfg.ArchiveGitBranch != "main" {
		t.Errorf("ArchiveGitBranch = %q", cfg.ArchiveGitBranch)
	}
	if cfg.DesktopNotify {
		t.Error("DesktopNotify should default to false")
	}
	if cfg.MaxPendingPerSession != 5 {
		t.Errorf("MaxPendingPerSession = %d, want 5", cfg.MaxPendingPerSession)
	}
	if cfg.MaxRequestsPerMinute != 10 {
		t.Errorf("MaxRequestsPerMinute = %d, want 10", cfg.MaxRequestsPerMinute)
	}
	if cfg.RateLimitWarnOnly {
		t.Error("RateLimitWarnOnly should default to false")
	}
	if len(cfg.AllowedIPs) != 0 {
		t.Errorf("AllowedIPs = %v, want empty", cfg.AllowedIPs)
	}
}

func TestLoadCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("PAIRLOCK_DATABASE_URL", "postgres://localhost/pairlock")
	t.Setenv("PAIRLOCK_SOCKET", "/run/pairlock.sock")
	t.Setenv("PAIRLOCK_ALLOWED_IPS", "10.0.0.5, 10.0.0.6,")
	t.Setenv("PAIRLOCK_DESKTOP_NOTIFY", "true")
	t.Setenv("PAIRLOCK_NOTIFY_INTERVAL", "5s")
	t.Setenv("PAIRLOCK_REQUEST_TIMEOUT", "15m")
	t.Setenv("PAIRLOCK_ARCHIVE_INTERVAL", "1h")
	t.Setenv("PAIRLOCK_ARCHIVE_FILE", "/var/log/pairlock/requests.jsonl")
	t.Setenv("PAIRLOCK_ARCHIVE_S3_BUCKET", "audit-bucket")
	t.Setenv("PAIRLOCK_ARCHIVE_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("PAIRLOCK_ARCHIVE_S3_REGION", "eu-west-1")
	t.Setenv("PAIRLOCK_ARCHIVE_GIT_REPO", "/srv/audit-repo")
	t.Setenv("PAIRLOCK_ARCHIVE_GIT_BRANCH", "audit")
	t.Setenv("PAIRLOCK_MAX_PENDING_PER_SESSION", "3")
	t.Setenv("PAIRLOCK_MAX_REQUESTS_PER_MINUTE", "20")
	t.Setenv("PAIRLOCK_RATE_LIMIT_WARN_ONLY", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SocketPath != "/run/pairlock.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if len(cfg.AllowedIPs) != 2 || cfg.AllowedIPs[0] != "10.0.0.5" || cfg.AllowedIPs[1] != "10.0.0.6" {
		t.Errorf("AllowedIPs = %v", cfg.AllowedIPs)
	}
	if !cfg.DesktopNotify {
		t.Error("DesktopNotify = false, want true")
	}
	if cfg.NotifyInterval != 5*time.Second {
		t.Errorf("NotifyInterval = %v", cfg.NotifyInterval)
	}
	if cfg.RequestTimeout != 15*time.Minute {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.ArchiveInterval != time.Hour {
		t.Errorf("ArchiveInterval = %v", cfg.ArchiveInterval)
	}
	if cfg.ArchiveFile != "/var/log/pairlock/requests.jsonl" {
		t.Errorf("ArchiveFile = %q", cfg.ArchiveFile)
	}
	if cfg.ArchiveS3Bucket != "audit-bucket" {
		t.Errorf("ArchiveS3Bucket = %q", cfg.ArchiveS3Bucket)
	}
	if cfg.ArchiveS3Endpoint != "http://minio:9000" {
		t.Errorf("ArchiveS3Endpoint = %q", cfg.ArchiveS3Endpoint)
	}
	if cfg.ArchiveS3Region != "eu-west-1" {
		t.Errorf("ArchiveS3Region = %q", cfg.ArchiveS3Region)
	}
	if cfg.ArchiveGitRepo != "/srv/audit-repo" {
		t.Errorf("ArchiveGitRepo = %q", cfg.ArchiveGitRepo)
	}
	if cfg.ArchiveGitBranch != "audit" {
		t.Errorf("ArchiveGitBranch = %q", cfg.ArchiveGitBranch)
	}
	if cfg.MaxPendingPerSession != 3 {
		t.Errorf("MaxPendingPerSession = %d, want 3", cfg.MaxPendingPerSession)
	}
	if cfg.MaxRequestsPerMinute != 20 {
		t.Errorf("MaxRequestsPerMinute = %d, want 20", cfg.MaxRequestsPerMinute)
	}
	if !cfg.RateLimitWarnOnly {
		t.Error("RateLimitWarnOnly = false, want true")
	}
}

func TestLoadInvalidInt(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("PAIRLOCK_DATABASE_URL", "postgres://localhost/pairlock")
	t.Setenv("PAIRLOCK_MAX_REQUESTS_PER_MINUTE", "lots")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PAIRLOCK_MAX_REQUESTS_PER_MINUTE")
	}
}

func TestLoadInvalidInterval(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("PAIRLOCK_DATABASE_URL", "postgres://localhost/pairlock")
	t.Setenv("PAIRLOCK_NOTIFY_INTERVAL", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid PAIRLOCK_NOTIFY_INTERVAL")
	}
}

func TestLoadDisabledIntervals(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("PAIRLOCK_DATABASE_URL", "postgres://localhost/pairlock")
	t.Setenv("PAIRLOCK_NOTIFY_INTERVAL", "0s")
	t.Setenv("PAIRLOCK_ARCHIVE_INTERVAL", "0s")
	t.Setenv("PAIRLOCK_REQUEST_TIMEOUT", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NotifyInterval != 0 || cfg.ArchiveInterval != 0 || cfg.RequestTimeout != 0 {
		t.Errorf("intervals = %v %v %v, want all 0",
			cfg.NotifyInterval, cfg.ArchiveInterval, cfg.RequestTimeout)
	}
}

func TestTruthy(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want bool
	}{
		{"1", true}, {"true", true}, {"TRUE", true}, {"yes", true}, {"on", true},
		{"", false}, {"0", false}, {"false", false}, {"off", false},
	} {
		if got := truthy(tc.in); got != tc.want {
			t.Errorf("truthy(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}
