package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/stepcraft/pkg/kernel/sdfx"
	"github.com/chazu/stepcraft/pkg/scene"
	"github.com/chazu/stepcraft/pkg/stepgraph"
)

func newRenderCmd(app *cliApp) *cobra.Command {
	var stlPath string
	var cells int

	cmd := &cobra.Command{
		Use:   "render <id>",
		Short: "Tessellate a saved model and print a scene summary",
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
			store := stepgraph.NewStore(
				stepgraph.WithLayout(app.cfg.Layout),
				stepgraph.WithMaxDepth(max(app.cfg.MaxDepth, maxDepth(m.Steps))),
			)
			if err := store.Load(m.Document()); err != nil {
				return fmt.Errorf("model %s: %w", m.ID, err)
			}

			if cells <= 0 {
				cells = app.cfg.Render.MeshCells
			}
			k := sdfx.New(sdfx.WithMeshCells(cells))
			p := scene.NewProjector(k)
			f, err := p.Project(store)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, titleStyle.Render(m.Title))
			fmt.Fprintf(w, "shapes     %d\n", len(f.Shapes))
			for _, kind := range []scene.LinkKind{scene.LinkSequence, scene.LinkBranch, scene.LinkSubStep, scene.LinkExplicit} {
				fmt.Fprintf(w, "%-10s %d\n", kind, len(f.LinksOf(kind)))
			}
			fmt.Fprintf(w, "triangles  %d\n", f.TriangleCount())

			if stlPath == "" {
				return nil
			}
			solid, err := p.Assemble(store)
			if err != nil {
				return err
			}
			if err := k.WriteSTL(solid, stlPath); err != nil {
				return err
			}
			fmt.Fprintf(w, "wrote %s\n", stlPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&stlPath, "stl", "", "Also write the assembled model as a binary STL file")
	cmd.Flags().IntVar(&cells, "cells", 0, "Marching cubes resolution (default from config)")
	return cmd
}

// maxDepth returns the deepest sub-step nesting in steps, so models saved
// under a looser limit still load.
func maxDepth(steps []stepgraph.StepNode) int {
	d := 0
	for _, s := range steps {
		if len(s.Children) > 0 {
			d = max(d, 1+maxDepth(s.Children))
		}
	}
	return d
}
