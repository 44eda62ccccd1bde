// Command mentiond runs the webmention daemon: it receives and verifies
// incoming mentions over HTTP, watches a content directory to keep outgoing
// mentions in sync, and serves stored mentions for rendering.
//
// Configuration is read from flags, with environment variables (optionally
// from a .env file in the working directory or /etc/webmention/mentiond.env)
// as fallback.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const envPrefix = "WEBMENTION_"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("/etc/webmention/mentiond.env"); err == nil {
			slog.Info("loaded configuration from /etc/webmention/mentiond.env")
		}
	}

	root := &cobra.Command{
		Use:           "mentiond",
		Short:         "Send, receive and serve webmentions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(sendCmd())

	if err := root.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(envPrefix + key)
	if raw == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn(fmt.Sprintf("ignoring invalid %s%s", envPrefix, key), "value", raw)
		return fallback
	}
	return parsed
}
