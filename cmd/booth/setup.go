package main

import (
	"log/slog"

	"github.com/wachiwi/potboy/pkg/archive"
	"github.com/wachiwi/potboy/pkg/booth"
	"github.com/wachiwi/potboy/pkg/camera"
	"github.com/wachiwi/potboy/pkg/config"
	"github.com/wachiwi/potboy/pkg/printer"
)

func cameraConfig(cfg *config.Config) camera.Config {
	return camera.Config{
		Width:        cfg.Camera.Width,
		Height:       cfg.Camera.Height,
		FPS:          cfg.Camera.FPS,
		Device:       cfg.Camera.Device,
		Command:      cfg.Camera.Command,
		Pattern:      cfg.Camera.Pattern,
		Index:        cfg.Camera.Index,
		StillWidth:   cfg.Camera.StillWidth,
		StillHeight:  cfg.Camera.StillHeight,
		StillCommand: cfg.Camera.StillCommand,
		StillTimeout: cfg.StillTimeout(),
		OpenAttempts: cfg.Camera.OpenAttempts,
		OpenDelay:    cfg.OpenDelay(),
	}
}

// snapshotter prefers the still helper and falls back to grabbing one frame
// from a fresh stream.
func snapshotter(camCfg camera.Config) camera.Snapshotter {
	if !camCfg.Pattern && camCfg.Device == "" {
		still, err := camera.NewStillCommand(camCfg)
		if err == nil {
			return still
		}
		slog.Warn("No still helper, capturing from the stream instead", "error", err)
	}
	return &camera.SourceSnapshotter{
		Source:   camera.NewSource(camCfg),
		Attempts: camCfg.OpenAttempts,
		Delay:    camCfg.OpenDelay,
	}
}

func receiptPrinter(cfg *config.Config) booth.Printer {
	if len(cfg.Printer.Command) == 0 {
		slog.Warn("No print command configured, receipts are only logged")
		return printer.Nop{}
	}
	return &printer.Command{Args: cfg.Printer.Command, Timeout: cfg.PrintTimeout()}
}

func pruneArchive(store *archive.Store) {
	n, err := store.Prune()
	if err != nil {
		slog.Error("Failed to prune capture ledger", "error", err)
		return
	}
	if n > 0 {
		slog.Info("Pruned capture ledger", "removed", n)
	}
}
