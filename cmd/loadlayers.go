package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gramveda/claim-intake/internal/refload"
)

var (
	layerType      string
	layerRegion    string
	layerNameField string
)

var loadLayersCmd = &cobra.Command{
	Use:   "loadlayers <file.shp>",
	Short: "Load a boundary layer shapefile (forest, protected, revenue)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := refload.LoadLayer(cmd.Context(), env.Store, args[0], refload.LayerOptions{
			LayerType:  layerType,
			RegionCode: layerRegion,
			NameField:  layerNameField,
		})
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d feature(s) into layer %s\n", n, layerType)
		return nil
	},
}

func init() {
	loadLayersCmd.Flags().StringVar(&layerType, "type", "", "layer type: forest, protected or revenue")
	loadLayersCmd.Flags().StringVar(&layerRegion, "region", "", "region code tag for loaded features")
	loadLayersCmd.Flags().StringVar(&layerNameField, "name-field", "NAME", "attribute holding the feature name")
	_ = loadLayersCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(loadLayersCmd)
}
