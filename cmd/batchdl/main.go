package main

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/batchdl/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "batchdl",
		Short: "Batch download engine - resolve a playlist URL to local audio files",
		Long: `batchdl ingests a playlist or album URL from a third-party catalog,
resolves each track to a downloadable stream on a video platform, and
downloads the audio locally. Progress survives a crash: every Track and
Batch is a row in a SQLite-backed state machine that's replayed on startup.`,
		Version: Version,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/batchdl.yaml)")
	rootCmd.PersistentFlags().String("db", "batchdl-state.db", "state database file")
	rootCmd.PersistentFlags().String("music-dir", "Music", "directory finished downloads are written to")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("music_dir", rootCmd.PersistentFlags().Lookup("music-dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("batchdl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BATCHDL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}

	// Hot-reload: the resolver's mirror list and the mapper's confidence
	// cutoff are safe to change mid-run, so a `serve` process in flight
	// picks up an edited config file without a restart. applyLiveConfig
	// is a no-op until buildEngine has run at least once.
	viper.OnConfigChange(func(e fsnotify.Event) {
		util.InfoLog("config changed (%s), reloading", e.Name)
		applyLiveConfig()
	})
	viper.WatchConfig()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
