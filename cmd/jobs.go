package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage pipeline jobs",
}

var (
	jobsStage  string
	jobsRegion string
	jobsLimit  int
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Store.ListJobs(cmd.Context(), store.JobFilter{
			Stage:      model.Stage(jobsStage),
			RegionCode: jobsRegion,
			Limit:      jobsLimit,
		})
		if err != nil {
			return err
		}

		for _, job := range jobs {
			fmt.Printf("%s  %-16s  conf=%5.1f  %-9s  %s\n",
				job.ID, job.Stage, job.Confidence,
				orDash(string(job.Outcome)), job.Payload.ClaimNumber.Value)
		}
		fmt.Printf("%d job(s)\n", len(jobs))
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Print one job as JSON, with its evidence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		ctx := cmd.Context()
		job, err := env.Store.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		duplicates, err := env.Store.ListDuplicateCandidates(ctx, job.ID)
		if err != nil {
			return err
		}
		conflicts, err := env.Store.ListConflictRecords(ctx, job.ID)
		if err != nil {
			return err
		}
		decisions, err := env.Store.ListReviewDecisions(ctx, job.ID)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"job":                  job,
			"duplicate_candidates": duplicates,
			"conflict_records":     conflicts,
			"review_decisions":     decisions,
		})
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cooperative cancellation of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.RequestCancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("cancellation requested for %s\n", args[0])
		return nil
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStage, "stage", "", "filter by stage")
	jobsListCmd.Flags().StringVar(&jobsRegion, "region", "", "filter by region code")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum jobs to list")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}
