package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gramveda/claim-intake/internal/refload"
)

var loadGazetteerCmd = &cobra.Command{
	Use:   "loadgazetteer <file.csv|file.json>",
	Short: "Load village gazetteer reference data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := refload.LoadGazetteer(cmd.Context(), env.Store, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d village(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadGazetteerCmd)
}
