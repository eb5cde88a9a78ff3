package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/stepcraft/pkg/config"
	"github.com/chazu/stepcraft/pkg/ctxlog"
	"github.com/chazu/stepcraft/pkg/persist"
)

// cliApp holds the persistent flags and what PersistentPreRunE derives
// from them.
type cliApp struct {
	ConfigPath string
	Backend    string
	DBPath     string
	LogLevel   string

	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	app := &cliApp{}

	cmd := &cobra.Command{
		Use:          "stepcraft",
		Short:        "Manage step-by-step 3D instruction models",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Save a script as a model
  stepcraft import examples/workbench.lisp --title "Workbench"

  # List and inspect saved models
  stepcraft models list
  stepcraft models show <id>

  # Export as YAML, or render to STL
  stepcraft models export <id> --format yaml
  stepcraft render <id> --stl workbench.stl
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(app.ConfigPath)
		if err != nil {
			return err
		}
		if app.Backend != "" {
			cfg.Storage.Backend = app.Backend
		}
		if app.DBPath != "" {
			cfg.Storage.Path = app.DBPath
		}
		if app.LogLevel != "" {
			cfg.Log.Level = app.LogLevel
		}
		app.cfg = cfg
		app.log = ctxlog.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
		cmd.SetContext(ctxlog.WithLogger(cmd.Context(), app.log))
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", envOr("STEPCRAFT_CONFIG", config.DefaultPath()), "Path to config.toml")
	cmd.PersistentFlags().StringVar(&app.Backend, "backend", envOr("STEPCRAFT_BACKEND", ""), "Storage backend (sqlite|memory); overrides the config file")
	cmd.PersistentFlags().StringVar(&app.DBPath, "db", envOr("STEPCRAFT_DB", ""), "Path to the saved-models database; overrides the config file")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")

	cmd.AddCommand(newModelsCmd(app))
	cmd.AddCommand(newImportCmd(app))
	cmd.AddCommand(newRenderCmd(app))
	cmd.AddCommand(newConfigCmd(app))

	return cmd
}

func envOr(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

// openModels opens the configured saved-model store. Callers close it.
func openModels(cmd *cobra.Command, app *cliApp) (*persist.Collection, error) {
	return persist.Open(cmd.Context(), app.cfg.Storage.Backend, app.cfg.Storage.Path)
}

func newConfigCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(app.ConfigPath); err == nil {
				return fmt.Errorf("%s already exists", app.ConfigPath)
			}
			if err := config.Write(app.ConfigPath, config.Default()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), app.ConfigPath)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), app.ConfigPath)
			return nil
		},
	})
	return cmd
}
