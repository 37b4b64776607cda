package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/batchdl/internal/api"
	"github.com/franz/batchdl/internal/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP facade and Batch Manager",
	Long: `serve starts the localhost JSON API (spec.md §6) in front of the
Batch Manager: submitted playlist URLs are extracted, matched, queued,
and downloaded by the adaptive worker pool while this process runs.

On startup the Batch Manager requeues every Track that a previous run
left in DISPATCHING or DOWNLOADING, after removing its partial files;
Tracks in any other state keep their stored status.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "address to listen on")
	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.orc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer eng.orc.Stop()

	router := api.NewRouter(eng.orc, eng.gw, eng.search, eng.musicDir)

	addr := GetConfigString("listen", ":8080")
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		util.SuccessLog("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		util.InfoLog("Received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		util.WarnLog("Graceful shutdown failed: %v", err)
	}

	return nil
}
