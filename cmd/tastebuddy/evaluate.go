package main

import (
	"context"
	"os"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/safety"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/transform"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var fromHistoryFlag bool

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <analysis.json | jobId>",
	Short: "Check a saved analysis against your allergen profile",
	Long: `Evaluate transforms a raw analysis payload (as returned by the scan service)
into a result and checks it against your allergen profile without uploading
anything. With --history the argument is a job ID from the history log, which
is re-evaluated against the current profile.`,
	Args: cobra.ExactArgs(1),
	Run:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().BoolVar(&fromHistoryFlag, "history", false, "Treat the argument as a job ID from the history log")
}

func runEvaluate(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	profile, err := loadProfile(cfg.ProfilePath, allergyFlags)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load allergen profile")
	}

	var result scan.Result
	if fromHistoryFlag {
		hl, closeLog, err := openHistory(context.Background(), cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("History unavailable")
		}
		defer closeLog()
		entry, err := hl.Get(context.Background(), args[0])
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read history")
		}
		if entry == nil || entry.Result() == nil {
			log.Fatal().Str("jobId", args[0]).Msg("Job not found in history")
		}
		result = entry.Result()
	} else {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read analysis file")
		}
		result, err = transform.Transform(raw, args[0], "")
		if err != nil {
			log.Fatal().Err(err).Msg("Could not build a result from the analysis")
		}
	}

	classification := safety.Evaluate(result, profile)
	printOutcome(os.Stdout, result, classification, safety.Route(result, classification))
}
