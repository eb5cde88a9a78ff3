package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/stepcraft/pkg/engine"
	"github.com/chazu/stepcraft/pkg/session"
	"github.com/chazu/stepcraft/pkg/stepgraph"
)

func newImportCmd(app *cliApp) *cobra.Command {
	var title, description string

	cmd := &cobra.Command{
		Use:   "import <script>",
		Short: "Evaluate an authoring script and save the result as a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(title) == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			storeOpts := []stepgraph.Option{
				stepgraph.WithLayout(app.cfg.Layout),
				stepgraph.WithMaxDepth(app.cfg.MaxDepth),
			}
			eng := engine.NewEngine(
				engine.WithTimeout(app.cfg.Script.Timeout()),
				engine.WithStoreOptions(storeOpts...),
			)
			doc, evalErrs, err := eng.Evaluate(cmd.Context(), string(src))
			if err != nil {
				return err
			}
			if len(evalErrs) > 0 {
				for _, e := range evalErrs {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", args[0], e.Error())
				}
				return errors.New("script has errors")
			}

			models, err := openModels(cmd, app)
			if err != nil {
				return err
			}
			defer models.Close()

			sess := session.New(stepgraph.NewStore(storeOpts...), models)
			if err := sess.ReplaceDocument(title, description, *doc); err != nil {
				return err
			}
			id, err := sess.SaveModel(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Model title (default: the script file name)")
	cmd.Flags().StringVar(&description, "description", "", "Model description")
	return cmd
}
