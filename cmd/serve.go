package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwbudde/dicesim/internal/server"
	"github.com/cwbudde/dicesim/internal/store"
	"github.com/spf13/cobra"
)

var (
	serveAddr    string
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Starts the JSON job API. Jobs run in the background; their progress is
available as status, server-sent events and, once finished, as results.csv.
With --data-dir, optimizer jobs are checkpointed there and can be resumed with
'dicesim resume'.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Checkpoint and result directory (empty = memory only)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var st store.Store
	if serveDataDir != "" {
		fs, err := store.NewFSStore(serveDataDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		st = fs
	}

	srv := server.NewServer(serveAddr, st)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("Server stopped")
	return nil
}
