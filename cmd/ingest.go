package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gramveda/claim-intake/internal/ingest"
)

var (
	ingestRegion string
	ingestXLSX   bool
	ingestSheet  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Create jobs from payload JSON files or XLSX claim registers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		total := 0
		for _, path := range args {
			if ingestXLSX {
				jobs, err := env.Ingestor.Register(cmd.Context(), path, ingest.RegisterOptions{
					RegionCode: ingestRegion,
					SheetName:  ingestSheet,
				})
				if err != nil {
					return err
				}
				total += len(jobs)
				continue
			}

			jobs, err := env.Ingestor.File(cmd.Context(), path)
			if err != nil {
				return err
			}
			for _, job := range jobs {
				fmt.Printf("%s  %s\n", job.ID, job.Payload.ClaimNumber.Value)
			}
			total += len(jobs)
		}

		fmt.Printf("created %d job(s)\n", total)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestRegion, "region", "", "region code for XLSX register rows")
	ingestCmd.Flags().BoolVar(&ingestXLSX, "xlsx", false, "treat inputs as XLSX claim registers")
	ingestCmd.Flags().StringVar(&ingestSheet, "sheet", "", "register sheet name (default first sheet)")
	rootCmd.AddCommand(ingestCmd)
}
