package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/gomail.v2"

	"github.com/wmkit/webmentions"
	"github.com/wmkit/webmentions/listener"
	"github.com/wmkit/webmentions/server"
	"github.com/wmkit/webmentions/storage"
	"github.com/wmkit/webmentions/watcher"
)

type serveConfig struct {
	database        string
	listenAddr      string
	endpointRoute   string
	retrievalRoute  string
	baseURL         string
	watchDir        string
	debounce        time.Duration
	pending         bool
	shutdownTimeout time.Duration
}

func serveCmd() *cobra.Command {
	var cfg serveConfig
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webmention endpoint and content watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.database, "database", getEnv("DATABASE_URL", ""),
		"database URL, postgres://... or a sqlite file path (required)")
	flags.StringVar(&cfg.listenAddr, "listen", getEnv("LISTEN_ADDR", ":8080"), "address to listen on")
	flags.StringVar(&cfg.endpointRoute, "route", getEnv("ENDPOINT_ROUTE", "/webmention"), "path of the webmention endpoint")
	flags.StringVar(&cfg.retrievalRoute, "mentions-route", getEnv("RETRIEVAL_ROUTE", ""), "path of the retrieval API (defaults to the endpoint route)")
	flags.StringVar(&cfg.baseURL, "base-url", getEnv("BASE_URL", ""),
		"public base URL of the site; incoming targets must match its host (required)")
	flags.StringVar(&cfg.watchDir, "watch", getEnv("WATCH_DIR", ""), "content directory to watch for outgoing mentions")
	flags.DurationVar(&cfg.debounce, "debounce", getEnvDuration("DEBOUNCE", watcher.DefaultDebounce), "quiet period before a file change is processed")
	flags.BoolVar(&cfg.pending, "pending", getEnv("INITIAL_STATUS", "") == "pending", "store new incoming mentions as pending instead of confirmed")
	flags.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", getEnvDuration("SHUTDOWN_TIMEOUT", 20*time.Second), "how long to wait for a clean shutdown")
	return cmd
}

func serve(ctx context.Context, cfg serveConfig) error {
	if cfg.database == "" {
		return errors.New("no database configured, set --database or WEBMENTION_DATABASE_URL")
	}
	if cfg.baseURL == "" {
		return errors.New("no base URL configured, set --base-url or WEBMENTION_BASE_URL")
	}
	baseURL, err := url.Parse(cfg.baseURL)
	if err != nil || baseURL.Host == "" {
		return fmt.Errorf("invalid base URL %q", cfg.baseURL)
	}

	store, err := storage.Open(cfg.database)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []webmentions.HandlerOption{
		webmentions.WithBaseURL(baseURL),
		webmentions.WithNotifier(buildNotifier()),
	}
	if cfg.pending {
		opts = append(opts, webmentions.WithInitialStatus(webmentions.StatusPending))
	}
	handler := webmentions.NewHandler(store, opts...)

	var monitor *webmentions.FileSystemMonitor
	if cfg.watchDir != "" {
		monitor = webmentions.NewFileSystemMonitor(
			handler,
			cfg.watchDir,
			webmentions.RelativeSourceMapper(cfg.watchDir, baseURL),
			watcher.WithDebounce(cfg.debounce),
		)
		if err := monitor.Start(); err != nil {
			return err
		}
		defer monitor.Stop()
	}

	httpServer := &http.Server{
		Addr: cfg.listenAddr,
		Handler: server.Routes(handler, server.Config{
			EndpointRoute:  cfg.endpointRoute,
			RetrievalRoute: cfg.retrievalRoute,
		}),
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.listenAddr, "endpoint", cfg.endpointRoute)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case sig := <-exit:
		slog.Info("interrupt received, shutting down", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, release := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer release()
	httpServer.SetKeepAlivesEnabled(false)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	if monitor != nil {
		monitor.Stop()
	}
	handler.Wait()
	return nil
}

// buildNotifier always logs processed mentions and, when mail is configured
// through the environment, also reports them by email.
func buildNotifier() webmentions.Notifier {
	logging := webmentions.NotifierFuncs{
		Processed: func(mention *webmentions.Mention) {
			slog.Info("mention processed",
				"source", mention.Source, "target", mention.Target,
				"direction", mention.Direction, "type", mention.Type)
		},
		Deleted: func(mention *webmentions.Mention) {
			slog.Info("mention deleted",
				"source", mention.Source, "target", mention.Target,
				"direction", mention.Direction)
		},
	}

	host := getEnv("MAIL_HOST", "")
	if host == "" {
		return logging
	}
	port := 587
	if raw := getEnv("MAIL_PORT", ""); raw != "" {
		fmt.Sscanf(raw, "%d", &port)
	}
	user := getEnv("MAIL_USER", "")
	from := getEnv("MAIL_FROM", user)
	to := getEnv("MAIL_TO", from)
	mailer := listener.NewMailerExternal(
		gomail.NewDialer(host, port, user, getEnv("MAIL_PASS", "")),
		from, to,
	)
	return webmentions.NotifierFuncs{
		Processed: func(mention *webmentions.Mention) {
			logging.Processed(mention)
			mailer.MentionProcessed(mention)
		},
		Deleted: func(mention *webmentions.Mention) {
			logging.Deleted(mention)
			mailer.MentionDeleted(mention)
		},
	}
}
