package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/atlasmap-sc/geftools/internal/bgef"
	"github.com/atlasmap-sc/geftools/internal/render"
	"github.com/atlasmap-sc/geftools/internal/service"
)

func newRenderCmd() *cobra.Command {
	var (
		input    string
		output   string
		bin      int
		layer    string
		cmapName string
		size     int
	)
	cmd := &cobra.Command{
		Use:   "render -i STORE --bin N -o out.png",
		Short: "Render a whole-tissue layer of a store to a PNG image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if layer == "" {
				layer = cfg.Render.DefaultLayer
			}
			l, err := bgef.ParseLayer(layer)
			if err != nil {
				return err
			}
			if cmapName == "" {
				cmapName = cfg.Render.DefaultColormap
			}

			store, err := bgef.Open(input)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := service.NewDatasetService(service.DatasetServiceConfig{
				Store: store,
				Renderer: render.NewTileRenderer(render.Config{
					TileSize:        cfg.Render.TileSize,
					DefaultColormap: cfg.Render.DefaultColormap,
				}),
				MaxTileCells: cfg.Server.MaxTileCells,
			})
			if err != nil {
				return err
			}
			img, err := svc.Preview(bin, l, size, cmapName)
			if err != nil {
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			if err := render.EncodePNG(f, img); err != nil {
				f.Close()
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			if err := f.Close(); err != nil {
				return err
			}

			b := img.Bounds()
			logrus.WithFields(logrus.Fields{
				"output": output,
				"layer":  l,
				"width":  b.Dx(),
				"height": b.Dy(),
			}).Info("Rendered preview")
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&input, "input", "i", "", "bGEF store to render")
	fl.StringVarP(&output, "output", "o", "preview.png", "PNG file to write")
	fl.IntVar(&bin, "bin", 0, "Bin size (default: smallest in the store)")
	fl.StringVar(&layer, "layer", "", "Layer: mid, gene or exon")
	fl.StringVar(&cmapName, "colormap", "", "Colormap name")
	fl.IntVar(&size, "size", 2048, "Longest image side in pixels")
	cmd.MarkFlagRequired("input")
	return cmd
}
