package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/franz/batchdl/internal/extract"
	"github.com/franz/batchdl/internal/gateway"
	"github.com/franz/batchdl/internal/httpx"
	"github.com/franz/batchdl/internal/mapper"
	"github.com/franz/batchdl/internal/orchestrator"
	"github.com/franz/batchdl/internal/report"
	"github.com/franz/batchdl/internal/resolver"
	"github.com/franz/batchdl/internal/resumedl"
	"github.com/franz/batchdl/internal/segdl"
	"github.com/franz/batchdl/internal/store"
	"github.com/franz/batchdl/internal/util"
)

// engine bundles every collaborator the orchestrator needs, wired once
// from viper config and shared across subcommands that need it (serve,
// import and download build the same stack; status opens only the store).
type engine struct {
	store    *store.Store
	orc      *orchestrator.Orchestrator
	gw       *gateway.Gateway
	res      *resolver.Resolver
	musicDir string
	search   mapper.SearchClient
}

// activeEngine is the most recently built engine, consulted by
// applyLiveConfig when the config file changes mid-run. Only "serve"
// keeps running long enough for a reload to matter; the other
// subcommands build an engine, do one thing, and exit before any
// config edit could reach them.
var activeEngine *engine

// applyLiveConfig re-reads the settings that are safe to change without
// restarting the process — the resolver's mirror list and the mapper's
// confidence cutoff — and pushes them into the running engine. Called
// from main.go's viper.OnConfigChange callback.
func applyLiveConfig() {
	if activeEngine == nil {
		return
	}
	activeEngine.res.SetMirrors(GetConfigStringSlice("resolver_mirrors"))
	mapper.SetConfidenceCutoff(GetConfigFloat64("confidence_cutoff", mapper.DefaultConfidenceCutoff))
	util.InfoLog("applied live config: %d mirrors, confidence cutoff %.2f",
		len(GetConfigStringSlice("resolver_mirrors")), mapper.CurrentConfidenceCutoff())
}

// buildEngine opens the state database and constructs the Catalog
// Extractor, Track Mapper, Stream Resolver, segmented Downloader, and
// Batch Manager from viper config, mirroring how cmd/mlc/scan.go wires
// its scanner/extractor from the same config helpers.
func buildEngine() (*engine, error) {
	dbPath := viper.GetString("db")
	musicDir := GetConfigString("music_dir", "Music")

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	client := httpx.New()

	videoAPIBase := GetConfigString("video_api_base", "https://video-platform.example/api/v1")
	videoAPIKey := GetConfigString("video_api_key", "")
	catalogAPIBase := GetConfigString("catalog_api_base", "https://catalog.example/api/v1")
	catalogClientID := GetConfigString("catalog_client_id", "")
	catalogClientSecret := GetConfigString("catalog_client_secret", "")
	mirrors := GetConfigStringSlice("resolver_mirrors")
	mapper.SetConfidenceCutoff(GetConfigFloat64("confidence_cutoff", mapper.DefaultConfidenceCutoff))

	resolveExtractor := extract.Resolve(client, catalogAPIBase, catalogClientID, catalogClientSecret)
	search := extract.NewVideoPlatformSearch(client, videoAPIBase, videoAPIKey)
	mpr := mapper.New(search)
	primary := resolver.NewVideoPlatformExtractor(client, videoAPIBase, videoAPIKey)
	res := resolver.New(client, primary, mirrors)
	dl := segdl.New(client)
	resumer := resumedl.New(client)

	orc := orchestrator.New(st, resolveExtractor, mpr, res, dl, resumer, musicDir)

	logLevel := report.LevelInfo
	if viper.GetBool("quiet") {
		logLevel = report.LevelWarning
	} else if viper.GetBool("verbose") {
		logLevel = report.LevelDebug
	}
	if logger, err := report.NewEventLogger("artifacts", logLevel); err != nil {
		util.WarnLog("failed to create event logger: %v", err)
	} else {
		orc.SetEventLogger(logger)
		if logger.Path() != "" {
			util.InfoLog("Event log: %s", logger.Path())
		}
	}

	gw := gateway.New(orc)

	eng := &engine{store: st, orc: orc, gw: gw, res: res, musicDir: musicDir, search: search}
	activeEngine = eng
	return eng, nil
}

func (e *engine) Close() error {
	return e.store.Close()
}
