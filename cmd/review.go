package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gramveda/claim-intake/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and decide the human review queue",
}

var reviewListLimit int

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review_pending jobs, worst first",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		queue, err := env.Review.Queue(cmd.Context(), reviewListLimit)
		if err != nil {
			return err
		}

		if len(queue) == 0 {
			fmt.Println("review queue is empty")
			return nil
		}
		for _, job := range queue {
			entered := ""
			if job.EnteredReviewAt != nil {
				entered = job.EnteredReviewAt.Format("2006-01-02 15:04")
			}
			fmt.Printf("%s  conf=%5.1f  severity=%-7s  cycles=%d  entered=%s  %s\n",
				job.ID, job.Confidence, orDash(string(job.MaxSeverity)),
				job.ReviewCycles, entered, job.Payload.ClaimNumber.Value)
		}
		return nil
	},
}

var (
	reviewReviewer    string
	reviewVerdict     string
	reviewReason      string
	reviewCorrections map[string]string
)

var reviewDecideCmd = &cobra.Command{
	Use:   "decide <job-id>",
	Short: "Record a review decision (approve, request_info, reject)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Review.Decide(cmd.Context(), args[0], model.ReviewDecision{
			ReviewerID:  reviewReviewer,
			Verdict:     model.Verdict(reviewVerdict),
			Reason:      reviewReason,
			Corrections: reviewCorrections,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s -> %s\n", job.ID, job.Stage)
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	reviewListCmd.Flags().IntVar(&reviewListLimit, "limit", 20, "maximum queue entries to show")

	reviewDecideCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "reviewer identifier")
	reviewDecideCmd.Flags().StringVar(&reviewVerdict, "verdict", "", "approve, request_info or reject")
	reviewDecideCmd.Flags().StringVar(&reviewReason, "reason", "", "free-text reason (required for reject)")
	reviewDecideCmd.Flags().StringToStringVar(&reviewCorrections, "correct", nil, "field corrections, e.g. --correct claim_number=MP/IFR/2024/1")
	_ = reviewDecideCmd.MarkFlagRequired("reviewer")
	_ = reviewDecideCmd.MarkFlagRequired("verdict")

	reviewCmd.AddCommand(reviewListCmd, reviewDecideCmd)
	rootCmd.AddCommand(reviewCmd)
}
