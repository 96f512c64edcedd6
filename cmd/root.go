package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartopack/kmztiler/internal/export"
	"github.com/cartopack/kmztiler/internal/server"
	"github.com/cartopack/kmztiler/pkg/raster"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kmztiler",
	Short: "Export a georeferenced raster as a Garmin Custom Map (KMZ)",
	Long: `kmztiler converts a georeferenced raster into a tiled KMZ overlay that
handheld Garmin devices accept as a Custom Map.

The raster (TIFF, PNG or JPEG, georeferenced by a world file sidecar or
an explicit --bbox) is downsampled to the highest resolution that still
fits the target device's tile cap, cut into JPEG tiles of at most one
megapixel and 3 MB each, and packed with a KML document into a single
KMZ archive.

Garmin publishes these Custom Map tile caps:
  - eTrex, Monterra: up to ~100 tiles
  - GPSMAP, Montana, Oregon: up to ~500 tiles
Pick --device custom with --tile-cap to use your own limit.

Examples:
  # Best quality that still fits an eTrex
  kmztiler --input trailmap.tif --device etrex -o trailmap.kmz

  # Custom tile cap, bounding box given explicitly (west,south,east,north)
  kmztiler -i scan.png --bbox 11.2,47.1,11.9,47.6 --device custom --tile-cap 64 -o scan.kmz

  # Start the HTTP export API
  kmztiler serve --port 8080`,
	// With no input selected there is nothing to export; show help.
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("input") && viper.GetString("input") == "" {
			return cmd.Help()
		}
		return runExport(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kmztiler.yaml)")

	// Input/output options
	rootCmd.Flags().StringP("input", "i", "", "input raster (TIFF, PNG or JPEG)")
	rootCmd.Flags().StringP("output", "o", "", "output KMZ file")
	rootCmd.Flags().String("name", "", "layer name shown on the device (default: input basename)")

	// Georeferencing
	rootCmd.Flags().String("bbox", "", "bounding box as 'west,south,east,north' in WGS84 degrees (default: world file sidecar)")

	// Device options
	rootCmd.Flags().StringP("device", "d", "etrex", "target device (etrex|gpsmap|custom)")
	rootCmd.Flags().Int("tile-cap", 250, "maximum tile count when --device custom")

	// Processing options
	rootCmd.Flags().Int("workers", 0, "parallel tile encoders (default: number of CPUs)")
	rootCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")

	// Bind flags to viper for root command
	viper.BindPFlag("input", rootCmd.Flags().Lookup("input"))
	viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("name", rootCmd.Flags().Lookup("name"))
	viper.BindPFlag("bbox", rootCmd.Flags().Lookup("bbox"))
	viper.BindPFlag("device", rootCmd.Flags().Lookup("device"))
	viper.BindPFlag("tile-cap", rootCmd.Flags().Lookup("tile-cap"))
	viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
	viper.BindPFlag("quiet", rootCmd.Flags().Lookup("quiet"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".kmztiler" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".kmztiler")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	input := viper.GetString("input")
	output := viper.GetString("output")

	if input == "" {
		return fmt.Errorf("input raster is required (use --input)")
	}
	if output == "" {
		return fmt.Errorf("output file is required (use --output)")
	}

	// Fail on an out-of-range cap before touching the raster.
	if _, err := export.ResolveCap(viper.GetString("device"), viper.GetInt("tile-cap")); err != nil {
		return err
	}

	var bounds *orb.Bound
	if s := viper.GetString("bbox"); s != "" {
		box, err := server.ParseBBox(s)
		if err != nil {
			return err
		}
		bounds = &box
	}

	src, err := raster.Open(input, bounds)
	if err != nil {
		return err
	}

	name := viper.GetString("name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}

	logger := log.New(os.Stderr, "", 0)
	if viper.GetBool("quiet") {
		logger.SetOutput(io.Discard)
	}

	exporter := export.New(logger)
	result, err := exporter.Export(cmd.Context(), src, export.Options{
		Output:  output,
		Device:  viper.GetString("device"),
		TileCap: viper.GetInt("tile-cap"),
		Name:    name,
		Workers: viper.GetInt("workers"),
	})
	if err != nil {
		return err
	}

	logger.Printf("wrote %s: %d tiles (%d skipped as empty)", result.Output, result.Tiles, result.Skipped)
	return nil
}
