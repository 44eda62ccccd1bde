package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wmkit/webmentions"
	"github.com/wmkit/webmentions/storage"
)

func sendCmd() *cobra.Command {
	var (
		database string
		file     string
		format   string
	)
	cmd := &cobra.Command{
		Use:   "send <source-url>",
		Short: "Send webmentions for the links in one page",
		Long: `Send webmentions for every link in the given page, and withdraw the
mentions of links that disappeared since the last run. The page content is
fetched from the source URL unless --file points to a local copy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if database == "" {
				return errors.New("no database configured, set --database or WEBMENTION_DATABASE_URL")
			}
			store, err := storage.Open(database)
			if err != nil {
				return err
			}
			defer store.Close()

			handler := webmentions.NewHandler(store, webmentions.WithNotifier(webmentions.NotifierFuncs{
				Processed: func(mention *webmentions.Mention) {
					slog.Info("sent", "target", mention.Target)
				},
				Deleted: func(mention *webmentions.Mention) {
					slog.Info("withdrawn", "target", mention.Target)
				},
			}))

			var text *string
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading %s: %w", file, err)
				}
				content := string(raw)
				text = &content
			}

			handler.ProcessOutgoing(cmd.Context(), args[0], text, webmentions.TextFormat(format))
			handler.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", getEnv("DATABASE_URL", ""),
		"database URL, postgres://... or a sqlite file path (required)")
	cmd.Flags().StringVar(&file, "file", "", "read page content from this file instead of fetching the source URL")
	cmd.Flags().StringVar(&format, "format", string(webmentions.FormatHTML), "content format: html, markdown or text")
	return cmd
}
