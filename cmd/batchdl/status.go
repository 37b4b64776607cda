package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/batchdl/internal/report"
	"github.com/franz/batchdl/internal/store"
	"github.com/franz/batchdl/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Batch and Track progress, or write a summary report",
	Long: `status prints a one-line rollup per Batch. Pass --out to also
write a full Markdown summary report (batch/track counts, bytes
downloaded, and the top recurring error codes) to <out>/<timestamp>/summary.md.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("out", "", "write a Markdown summary report to this directory instead of stdout")
	statusCmd.Flags().String("event-log", "", "path to an event log file to cross-reference in the report")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	dbPath := viper.GetString("db")
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	eventLogPath, _ := cmd.Flags().GetString("event-log")

	summary, err := report.GenerateSummaryReport(db, eventLogPath)
	if err != nil {
		return fmt.Errorf("failed to generate status: %w", err)
	}

	outDir, _ := cmd.Flags().GetString("out")
	if outDir != "" {
		timestamp := time.Now().Format("20060102-150405")
		outputPath := filepath.Join(outDir, timestamp, "summary.md")
		if err := report.WriteMarkdownReport(summary, outputPath); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		util.SuccessLog("Report written to %s", outputPath)
		return nil
	}

	fmt.Printf("%d batches (%d completed, %d failed, %d active)\n",
		summary.BatchesTotal, summary.BatchesCompleted, summary.BatchesFailed, summary.BatchesActive)
	fmt.Printf("tracks: %d extracted, %d matched, %d awaiting, %d downloaded, %d failed\n",
		summary.TracksExtracted, summary.TracksMatched, summary.TracksAwaiting, summary.TracksDownloaded, summary.TracksFailed)
	for _, b := range summary.Batches {
		fmt.Printf("  %-36s %-12s %3d/%3d tracks  %s\n", b.ID, b.State, b.CompletedCount, b.TotalTracks, b.SourceURL)
	}

	return nil
}
