package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/batchdl/internal/orchestrator"
	"github.com/franz/batchdl/internal/util"
)

var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download a single track without going through the Batch pipeline",
	Long: `download is the single-song fast path (spec.md §6's /api/download
and /api/progress): it skips Batch/Track bookkeeping entirely and
resolves+streams one URL directly, reporting progress to a terminal
progress bar the same way the rest of the engine reports Track progress
internally.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().String("title", "", "display title, used as a search hint if the URL isn't already a direct stream")
	downloadCmd.Flags().String("codec", "", "preferred audio codec (mp3, opus, ogg); any other value is saved as mp3")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	rawURL := args[0]
	title, _ := cmd.Flags().GetString("title")
	codec, _ := cmd.Flags().GetString("codec")

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	taskID := uuid.NewString()
	eng.orc.StartDownloadTask(taskID, rawURL, title, codec)

	isTTY := util.IsTerminal(os.Stdout.Fd())
	var bar *progressbar.ProgressBar
	if isTTY && !util.IsQuiet() {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("Downloading"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	for {
		progress, ok := eng.orc.Progress(taskID)
		if !ok {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if bar != nil {
			bar.Set(progress.Percent)
		}

		switch progress.Status {
		case orchestrator.TaskDone:
			if bar != nil {
				bar.Finish()
			}
			util.SuccessLog("Saved to %s", progress.Result)
			return nil
		case orchestrator.TaskError:
			if bar != nil {
				bar.Close()
			}
			return fmt.Errorf("download failed: %s", progress.Error)
		}

		time.Sleep(150 * time.Millisecond)
	}
}
