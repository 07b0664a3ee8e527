package main

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/groblegark/pairlock/internal/archive"
	"github.com/groblegark/pairlock/internal/config"
	"github.com/groblegark/pairlock/internal/events"
	"github.com/groblegark/pairlock/internal/ipc"
	"github.com/groblegark/pairlock/internal/model"
	"github.com/groblegark/pairlock/internal/notify"
	"github.com/groblegark/pairlock/internal/presence"
	"github.com/groblegark/pairlock/internal/ratelimit"
	"github.com/groblegark/pairlock/internal/risk"
	"github.com/groblegark/pairlock/internal/store/postgres"
	"github.com/groblegark/pairlock/internal/verify"
)

// sweepInterval is how often the daemon checks for pending requests past
// their timeout.
const sweepInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the pairlock daemon",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		// Load configuration.
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Connect to Postgres.
		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		// Create event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				store.Close()
				return err
			}
			publisher = pub
			logger.Info("event bridge enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("event bridge disabled (PAIRLOCK_NATS_URL not set)")
		}

		// Notification sinks.
		notifyOpts := notify.Options{Interval: cfg.NotifyInterval, Logger: logger}
		if cfg.DesktopNotify {
			notifyOpts.Desktop = notify.OsascriptNotifier{}
			logger.Info("desktop notifications enabled")
		}
		if cfg.WebhookURL != "" {
			notifyOpts.Webhook = notify.NewWebhook(cfg.WebhookURL)
			logger.Info("webhook notifications enabled", "url", cfg.WebhookURL)
		}
		var manager *notify.Manager
		if notifyOpts.Desktop != nil || notifyOpts.Webhook != nil {
			manager = notify.New(store, notifyOpts)
		}

		verifier := verify.New(store)
		tracker := presence.New()
		limiter := ratelimit.New(store, ratelimit.Config{
			MaxPendingPerSession: cfg.MaxPendingPerSession,
			MaxRequestsPerMinute: cfg.MaxRequestsPerMinute,
			WarnOnly:             cfg.RateLimitWarnOnly,
		})
		dispatcher := ipc.NewDispatcher(ipc.DispatcherOptions{
			Classifier: risk.NewClassifier(),
			Verifier:   verifier,
			Store:      store,
			Presence:   tracker,
			Bridge:     publisher,
			Notifier:   manager,
			Limiter:    limiter,
			Logger:     logger,
		})

		// Bind the unix socket.
		if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o700); err != nil {
			publisher.Close()
			store.Close()
			return err
		}
		sockServer, err := ipc.NewServer(cfg.SocketPath, dispatcher, logger)
		if err != nil {
			publisher.Close()
			store.Close()
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			logger.Info("daemon listening", "socket", cfg.SocketPath)
			sockServer.Start(ctx)
		}()

		// Optional remote listener.
		var tcpServer *ipc.TCPServer
		if cfg.ListenAddr != "" {
			tcpServer, err = ipc.NewTCPServer(ipc.TCPServerOptions{
				Addr:        cfg.ListenAddr,
				RequireAuth: true,
				AllowedIPs:  cfg.AllowedIPs,
				ValidateAuth: func(_ context.Context, key string) (bool, error) {
					return subtle.ConstantTimeCompare([]byte(key), []byte(cfg.SessionKey)) == 1, nil
				},
			}, dispatcher, logger)
			if err != nil {
				sockServer.Stop()
				publisher.Close()
				store.Close()
				return err
			}
			go func() {
				logger.Info("remote listener enabled", "addr", cfg.ListenAddr, "allowed_ips", len(cfg.AllowedIPs))
				tcpServer.Start(ctx)
			}()
		}

		// Notification poll loop.
		if manager != nil && cfg.NotifyInterval > 0 {
			go manager.Run(ctx)
			logger.Info("notification loop started", "interval", cfg.NotifyInterval)
		}

		// Timeout sweep.
		if cfg.RequestTimeout > 0 {
			go runTimeoutSweep(ctx, verifier, dispatcher, publisher, manager, cfg.RequestTimeout, logger)
			logger.Info("timeout sweep started", "request_timeout", cfg.RequestTimeout)
		}

		// Archive scheduler.
		var scheduler *archive.Scheduler
		if cfg.ArchiveInterval > 0 {
			var dests []archive.Destination
			if cfg.ArchiveS3Bucket != "" {
				s3Dest, err := archive.NewS3Destination(
					context.Background(),
					cfg.ArchiveS3Bucket,
					cfg.ArchiveS3Prefix,
					cfg.ArchiveS3Region,
					cfg.ArchiveS3Endpoint,
				)
				if err != nil {
					logger.Error("failed to create S3 archive destination", "err", err)
				} else {
					dests = append(dests, s3Dest)
					logger.Info("archive S3 destination enabled", "bucket", cfg.ArchiveS3Bucket, "prefix", cfg.ArchiveS3Prefix)
				}
			}
			if cfg.ArchiveFile != "" {
				dests = append(dests, archive.NewFileDestination(cfg.ArchiveFile))
				logger.Info("archive file destination enabled", "path", cfg.ArchiveFile)
			}
			if cfg.ArchiveGitRepo != "" {
				dests = append(dests, archive.NewGitDestination(cfg.ArchiveGitRepo, cfg.ArchiveGitFile, cfg.ArchiveGitBranch))
				logger.Info("archive git destination enabled", "repo", cfg.ArchiveGitRepo, "file", cfg.ArchiveGitFile)
			}
			if len(dests) > 0 {
				scheduler = archive.NewScheduler(store, dests, cfg.ArchiveInterval, time.Now().Add(-cfg.ArchiveInterval), logger)
				scheduler.Start()
				logger.Info("archive scheduler started", "interval", cfg.ArchiveInterval)
			}
		}

		logger.Info("pairlock daemon started", "socket", cfg.SocketPath, "listen", cfg.ListenAddr)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown.
		cancel()
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}
		if tcpServer != nil {
			tcpServer.Stop()
			logger.Info("remote listener stopped")
		}
		sockServer.Stop()
		logger.Info("daemon socket closed")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// runTimeoutSweep expires pending requests past their deadline and fans the
// timeouts out to subscribers, the bridge, and the notification sinks.
func runTimeoutSweep(ctx context.Context, verifier *verify.Verifier, dispatcher *ipc.Dispatcher, publisher events.Publisher, manager *notify.Manager, timeout time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		expired, err := verifier.ExpirePending(ctx, time.Now().Add(-timeout))
		if err != nil {
			logger.Error("timeout sweep failed", "err", err)
			continue
		}
		for _, req := range expired {
			logger.Info("request timed out", "request_id", req.ID, "tier", req.RiskTier)
			dispatcher.Hub().Publish(ipc.Event{Type: "request_timeout", Payload: map[string]any{
				"request_id": req.ID,
				"tier":       string(req.RiskTier),
			}})
			if err := publisher.Publish(ctx, events.TopicRequestTimeout, events.RequestSettled{
				RequestID: req.ID,
				Status:    string(model.StatusTimedOut),
			}); err != nil {
				logger.Warn("publish timeout event", "request_id", req.ID, "err", err)
			}
			manager.Emit(ctx, req, notify.EventTimeout, nil, "")
		}
	}
}
