package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string // PAIRLOCK_DATABASE_URL (required)
	SocketPath  string // PAIRLOCK_SOCKET (default ~/.local/state/pairlock/pairlock.sock)

	// Remote listener
	ListenAddr string   // PAIRLOCK_LISTEN (optional, empty = unix socket only)
	SessionKey string   // PAIRLOCK_SESSION_KEY (required when PAIRLOCK_LISTEN is set)
	AllowedIPs []string // PAIRLOCK_ALLOWED_IPS (comma separated, empty = any)

	NATSURL string // PAIRLOCK_NATS_URL (optional, empty = no event bridge)

	// Notifications
	WebhookURL     string        // PAIRLOCK_WEBHOOK_URL (optional)
	DesktopNotify  bool          // PAIRLOCK_DESKTOP_NOTIFY (truthy enables osascript alerts)
	NotifyInterval time.Duration // PAIRLOCK_NOTIFY_INTERVAL (default 30s; 0 = disabled)

	// RequestTimeout is how long a request may stay pending before the
	// sweep marks it timed out.
	RequestTimeout time.Duration // PAIRLOCK_REQUEST_TIMEOUT (default 1h; 0 = never)

	// Per-session request limits
	MaxPendingPerSession int  // PAIRLOCK_MAX_PENDING_PER_SESSION (default 5)
	MaxRequestsPerMinute int  // PAIRLOCK_MAX_REQUESTS_PER_MINUTE (default 10)
	RateLimitWarnOnly    bool // PAIRLOCK_RATE_LIMIT_WARN_ONLY (truthy logs instead of refusing)

	// Archive settings
	ArchiveInterval   time.Duration // PAIRLOCK_ARCHIVE_INTERVAL (default 10m; 0 = disabled)
	ArchiveFile       string        // PAIRLOCK_ARCHIVE_FILE (enables local file when set)
	ArchiveS3Bucket   string        // PAIRLOCK_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // PAIRLOCK_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // PAIRLOCK_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        // PAIRLOCK_ARCHIVE_S3_PREFIX (default "pairlock/requests")
	ArchiveGitRepo    string        // PAIRLOCK_ARCHIVE_GIT_REPO (enables git when set; path to clone)
	ArchiveGitFile    string        // PAIRLOCK_ARCHIVE_GIT_FILE (default "requests.jsonl")
	ArchiveGitBranch  string        // PAIRLOCK_ARCHIVE_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("PAIRLOCK_DATABASE_URL"),
		SocketPath:        envOrDefault("PAIRLOCK_SOCKET", DefaultSocketPath()),
		ListenAddr:        os.Getenv("PAIRLOCK_LISTEN"),
		SessionKey:        os.Getenv("PAIRLOCK_SESSION_KEY"),
		NATSURL:           os.Getenv("PAIRLOCK_NATS_URL"),
		WebhookURL:        os.Getenv("PAIRLOCK_WEBHOOK_URL"),
		DesktopNotify:     truthy(os.Getenv("PAIRLOCK_DESKTOP_NOTIFY")),
		RateLimitWarnOnly: truthy(os.Getenv("PAIRLOCK_RATE_LIMIT_WARN_ONLY")),
		ArchiveFile:       os.Getenv("PAIRLOCK_ARCHIVE_FILE"),
		ArchiveS3Bucket:   os.Getenv("PAIRLOCK_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("PAIRLOCK_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("PAIRLOCK_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix:   envOrDefault("PAIRLOCK_ARCHIVE_S3_PREFIX", "pairlock/requests"),
		ArchiveGitRepo:    os.Getenv("PAIRLOCK_ARCHIVE_GIT_REPO"),
		ArchiveGitFile:    envOrDefault("PAIRLOCK_ARCHIVE_GIT_FILE", "requests.jsonl"),
		ArchiveGitBranch:  envOrDefault("PAIRLOCK_ARCHIVE_GIT_BRANCH", "main"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("PAIRLOCK_DATABASE_URL is required")
	}
	if c.ListenAddr != "" && c.SessionKey == "" {
		return nil, fmt.Errorf("PAIRLOCK_SESSION_KEY is required when PAIRLOCK_LISTEN is set")
	}

	if ips := os.Getenv("PAIRLOCK_ALLOWED_IPS"); ips != "" {
		for _, ip := range strings.Split(ips, ",") {
			if trimmed := strings.TrimSpace(ip); trimmed != "" {
				c.AllowedIPs = append(c.AllowedIPs, trimmed)
			}
		}
	}

	var err error
	if c.NotifyInterval, err = durationEnv("PAIRLOCK_NOTIFY_INTERVAL", "30s"); err != nil {
		return nil, err
	}
	if c.RequestTimeout, err = durationEnv("PAIRLOCK_REQUEST_TIMEOUT", "1h"); err != nil {
		return nil, err
	}
	if c.ArchiveInterval, err = durationEnv("PAIRLOCK_ARCHIVE_INTERVAL", "10m"); err != nil {
		return nil, err
	}
	if c.MaxPendingPerSession, err = intEnv("PAIRLOCK_MAX_PENDING_PER_SESSION", 5); err != nil {
		return nil, err
	}
	if c.MaxRequestsPerMinute, err = intEnv("PAIRLOCK_MAX_REQUESTS_PER_MINUTE", 10); err != nil {
		return nil, err
	}

	return c, nil
}

// DefaultSocketPath returns the conventional per-user socket location.
func DefaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pairlock.sock")
	}
	return filepath.Join(home, ".local", "state", "pairlock", "pairlock.sock")
}

func durationEnv(key, fallback string) (time.Duration, error) {
	raw := envOrDefault(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
