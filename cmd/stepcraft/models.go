package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chazu/stepcraft/pkg/persist"
	"github.com/chazu/stepcraft/pkg/stepgraph"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5f9fb0"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c757d"))
)

func newModelsCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"model", "m"},
		Short:   "Saved model commands",
	}
	cmd.AddCommand(newModelsListCmd(app))
	cmd.AddCommand(newModelsShowCmd(app))
	cmd.AddCommand(newModelsDeleteCmd(app))
	cmd.AddCommand(newModelsExportCmd(app))
	return cmd
}

func newModelsListCmd(app *cliApp) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := openModels(cmd, app)
			if err != nil {
				return err
			}
			defer models.Close()

			list, err := models.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("no saved models"))
				return nil
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				BorderStyle(mutedStyle).
				Headers("ID", "TITLE", "STEPS", "NODES", "SAVED").
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return headerStyle.Padding(0, 1)
					}
					return lipgloss.NewStyle().Padding(0, 1)
				})
			for _, m := range list {
				t.Row(
					m.ID,
					m.Title,
					fmt.Sprint(len(m.Steps)),
					fmt.Sprint(m.Document().NodeCount()),
					m.SavedAt.Local().Format("2006-01-02 15:04"),
				)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newModelsShowCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a saved model's steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := openModels(cmd, app)
			if err != nil {
				return err
			}
			defer models.Close()

			m, err := models.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			writeModel(cmd.OutOrStdout(), m)
			return nil
		},
	}
	return cmd
}

// writeModel prints the step tree with a color swatch per node, then the
// explicit connections.
func writeModel(w io.Writer, m persist.SavedModel) {
	fmt.Fprintln(w, titleStyle.Render(m.Title))
	if m.Description != "" {
		fmt.Fprintln(w, mutedStyle.Render(m.Description))
	}
	fmt.Fprintln(w)

	titles := make(map[stepgraph.NodeID]string)
	var walk func(n stepgraph.StepNode, prefix string, depth int)
	walk = func(n stepgraph.StepNode, prefix string, depth int) {
		titles[n.ID] = n.Title
		swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(n.Color)).Render("■")
		fmt.Fprintf(w, "%s%s %s %s %s\n",
			strings.Repeat("  ", depth), prefix, swatch, n.Title,
			mutedStyle.Render(fmt.Sprintf("(%s, %s)", n.Shape, n.ID.Short())))
		for i, c := range n.Children {
			walk(c, fmt.Sprintf("%s.%d", prefix, i+1), depth+1)
		}
	}
	for i, s := range m.Steps {
		walk(s, fmt.Sprint(i+1), 0)
	}

	if len(m.Connections) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Connections"))
	for _, c := range m.Connections {
		line := fmt.Sprintf("%s -> %s", titles[c.From], titles[c.To])
		if c.Description != "" {
			line += mutedStyle.Render("  " + c.Description)
		}
		fmt.Fprintln(w, line)
	}
}

func newModelsDeleteCmd(app *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := openModels(cmd, app)
			if err != nil {
				return err
			}
			defer models.Close()

			if _, err := models.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := models.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newModelsExportCmd(app *cliApp) *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a saved model as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := openModels(cmd, app)
			if err != nil {
				return err
			}
			defer models.Close()

			m, err := models.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			switch format {
			case "json":
				return writeJSON(w, m)
			case "yaml", "yml":
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				if err := enc.Encode(m); err != nil {
					return fmt.Errorf("encode yaml: %w", err)
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown format %q, expected json or yaml", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format (json|yaml)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
