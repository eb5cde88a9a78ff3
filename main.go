package main

import (
	"context"
	"embed"
	"flag"
	"log/slog"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"github.com/chazu/stepcraft/pkg/config"
	"github.com/chazu/stepcraft/pkg/ctxlog"
	"github.com/chazu/stepcraft/pkg/persist"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := ctxlog.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)

	ctx := ctxlog.WithLogger(context.Background(), logger)
	models, err := persist.Open(ctx, cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		logger.Error("open saved models", "err", err)
		os.Exit(1)
	}

	app := NewApp(cfg, models, logger)

	err = wails.Run(&options.App{
		Title:  "stepcraft",
		Width:  1280,
		Height: 800,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 24, G: 24, B: 27, A: 1},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		logger.Error("wails", "err", err)
		os.Exit(1)
	}
}
