package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/batchdl/internal/util"
)

var importCmd = &cobra.Command{
	Use:   "import <url>",
	Short: "Submit a playlist or album URL as a new Batch",
	Long: `import extracts the track listing at <url> via the Catalog
Extractor and creates a Batch row, then returns immediately. The
Batch Manager (a separate "serve" process, or this one if you pass
--wait) resolves and downloads the tracks in the background.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().String("platform", "", "source catalog platform hint (autodetected from URL if omitted)")
	importCmd.Flags().Bool("wait", false, "keep the process running and let this process's own worker pool drain the batch")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	rawURL := args[0]
	platform, _ := cmd.Flags().GetString("platform")
	wait, _ := cmd.Flags().GetBool("wait")

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()

	if wait {
		if err := eng.orc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start orchestrator: %w", err)
		}
		defer eng.orc.Stop()
	}

	result, err := eng.orc.SubmitBatch(ctx, rawURL, platform)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	util.SuccessLog("Batch %s submitted: %d tracks extracted", result.BatchID, result.TrackCount)

	if wait {
		util.InfoLog("Waiting for batch to drain (Ctrl-C to detach; progress persists)")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
	}

	return nil
}
