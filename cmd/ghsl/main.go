/*
Copyright © 2024 the GHSL-Go authors.
This file is part of GHSL-Go.

GHSL-Go is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

GHSL-Go is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with GHSL-Go.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command ghsl downloads Global Human Settlement Layer rasters for a
// region of interest and writes the assembled dataset to a gob file.
package main

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/spatialmodel/ghsl"
)

func init() {
	gob.Register(sparse.DenseArray{})
	gob.Register(geom.Polygon{})
}

// config mirrors the TOML configuration file. Flags override file
// values.
type config struct {
	CacheDir       string
	BaseURL        string
	Workers        int
	MaxRetries     int
	Strict         bool
	Products       []string
	Epochs         []int
	Resolution     string
	Classification string
	TargetCRS      string
	LogLevel       string

	// Region sources; exactly one must be set for a download.
	BBox      []float64 // lonMin, latMin, lonMax, latMax in WGS84
	GeoJSON   string
	Shapefile string

	Output string
}

var (
	cfg = config{
		Workers:    4,
		MaxRetries: 3,
		LogLevel:   "info",
		Output:     "ghsl.gob",
	}
	cfgPath      string
	flagProducts []string
	flagEpochs   []int
	log          = logrus.New()
	rootCmd = &cobra.Command{
		Use:   "ghsl",
		Short: "ghsl retrieves and mosaics Global Human Settlement Layer rasters",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadConfig()
		},
	}
)

// loadConfig layers the TOML file over the built-in defaults, then the
// command-line flags over the file.
func loadConfig() error {
	if cfgPath != "" {
		if _, err := toml.DecodeFile(cfgPath, &cfg); err != nil {
			return fmt.Errorf("reading config %s: %w", cfgPath, err)
		}
	}
	if len(flagProducts) > 0 {
		cfg.Products = flagProducts
	}
	if len(flagEpochs) > 0 {
		cfg.Epochs = flagEpochs
	}
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(lvl)
	return nil
}

func region() (*ghsl.Region, error) {
	switch {
	case cfg.Shapefile != "":
		return ghsl.RegionFromShapefile(cfg.Shapefile)
	case cfg.GeoJSON != "":
		b, err := os.ReadFile(cfg.GeoJSON)
		if err != nil {
			return nil, err
		}
		return ghsl.RegionFromGeoJSON(b, ghsl.WGS84)
	case len(cfg.BBox) == 4:
		b := &geom.Bounds{
			Min: geom.Point{X: cfg.BBox[0], Y: cfg.BBox[1]},
			Max: geom.Point{X: cfg.BBox[2], Y: cfg.BBox[3]},
		}
		return ghsl.RegionFromBounds(b, ghsl.WGS84)
	default:
		return nil, fmt.Errorf("no region given; set bbox, geojson or shapefile")
	}
}

func client() (*ghsl.Client, error) {
	dc := ghsl.DefaultDownloadConfig()
	dc.Strict = cfg.Strict
	dc.Logger = log
	if cfg.CacheDir != "" {
		dc.CacheDir = cfg.CacheDir
	}
	if cfg.BaseURL != "" {
		dc.BaseURL = cfg.BaseURL
	}
	if cfg.Workers > 0 {
		dc.Workers = cfg.Workers
	}
	if cfg.MaxRetries > 0 {
		dc.MaxRetries = cfg.MaxRetries
	}
	if cfg.TargetCRS != "" {
		crs, err := ghsl.ParseCRS(cfg.TargetCRS)
		if err != nil {
			return nil, err
		}
		dc.TargetCRS = crs
	}
	return ghsl.NewClient(dc)
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download and assemble rasters for a region",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := region()
		if err != nil {
			return err
		}
		c, err := client()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ds, err := c.Download(ctx, &ghsl.Request{
			Products:       cfg.Products,
			Epochs:         cfg.Epochs,
			Resolution:     ghsl.Resolution(cfg.Resolution),
			Classification: cfg.Classification,
			Region:         r,
		})
		if err != nil {
			return err
		}
		for pi, p := range ds.Products {
			for ei, e := range ds.Epochs {
				log.WithFields(logrus.Fields{
					"product": p, "epoch": e,
					"coverage": fmt.Sprintf("%.1f%%", 100*ds.Coverage[pi][ei]),
				}).Info("assembled slice")
			}
		}
		w, err := os.Create(cfg.Output)
		if err != nil {
			return err
		}
		defer w.Close()
		if err := gob.NewEncoder(w).Encode(ds); err != nil {
			return fmt.Errorf("writing %s: %w", cfg.Output, err)
		}
		log.WithField("file", cfg.Output).Info("wrote dataset")
		return nil
	},
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List the available products, epochs and resolutions",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range ghsl.Products() {
			p, err := ghsl.ProductInfo(name)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", p.Name, p.Description)
			fmt.Printf("  epochs: %v\n", p.Epochs)
			fmt.Printf("  resolutions: %v (default %s)\n", p.Resolutions, p.DefaultResolution)
			if len(p.Classifications) > 0 {
				fmt.Printf("  classifications: %v (default %s)\n",
					p.Classifications, p.DefaultClassification)
			}
		}
		return nil
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate product epoch",
	Short: "Drop cached tiles for one product and epoch",
	Long: `Drop cached tiles for one product and epoch, forcing the next
download to refetch them. Useful after the archive publishes a revision.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		epoch, err := cast.ToIntE(args[1])
		if err != nil {
			return fmt.Errorf("bad epoch %q: %w", args[1], err)
		}
		c, err := client()
		if err != nil {
			return err
		}
		return c.Cache().Invalidate(args[0], epoch)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to TOML configuration file")
	downloadCmd.Flags().StringSliceVar(&flagProducts, "products", nil, "products to download")
	downloadCmd.Flags().IntSliceVar(&flagEpochs, "epochs", nil, "epochs to download")
	rootCmd.AddCommand(downloadCmd, productsCmd, invalidateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
