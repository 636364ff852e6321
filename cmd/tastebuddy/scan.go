package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/api"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/auth"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/cli"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/config"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/history"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/jobs"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/safety"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scanerr"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Scan flags
var (
	apiURLFlag      string
	pickFlag        bool
	noStreamFlag    bool
	pollTimeoutFlag time.Duration
	maxDimFlag      int
	noHistoryFlag   bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [image]",
	Short: "Scan a dish or menu photo",
	Long: `Upload a photo, follow the analysis, and report allergens from your profile.

The image can be given as an argument, chosen with --pick in a native file
dialog, or typed at the prompt.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&apiURLFlag, "api", "", "Scan API base URL (overrides "+config.EnvAPIURL+")")
	scanCmd.Flags().BoolVar(&pickFlag, "pick", false, "Choose the image in a native file dialog")
	scanCmd.Flags().BoolVar(&noStreamFlag, "no-stream", false, "Skip streaming and poll for status")
	scanCmd.Flags().DurationVar(&pollTimeoutFlag, "poll-timeout", 0, "Overall polling timeout (overrides "+config.EnvPollTimeout+")")
	scanCmd.Flags().IntVar(&maxDimFlag, "max-dimension", 0, "Longest image edge in pixels before upload")
	scanCmd.Flags().BoolVar(&noHistoryFlag, "no-history", false, "Do not record this scan in the history log")
}

func runScan(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if apiURLFlag != "" {
		cfg.APIURL = apiURLFlag
	}
	if noStreamFlag {
		cfg.Stream = false
	}
	if pollTimeoutFlag > 0 {
		cfg.PollTimeout = pollTimeoutFlag
	}
	if maxDimFlag > 0 {
		cfg.MaxDimension = maxDimFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	imagePath, err := resolveImage(args)
	if err != nil {
		log.Fatal().Err(err).Msg("No image to scan")
	}

	profile, err := loadProfile(cfg.ProfilePath, allergyFlags)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load allergen profile")
	}
	if len(profile) == 0 {
		log.Warn().Msg("Allergen profile is empty; every dish will be reported safe")
	}

	sink, closeSink := openMetrics(context.Background(), cfg.Metrics)
	defer closeSink()

	client := api.NewClient(cfg.APIURL, tokenSource())
	orch := jobs.New(client, jobs.Options{
		Poll: transport.PollConfig{
			Interval:    cfg.PollInterval,
			Timeout:     cfg.PollTimeout,
			MaxFailures: cfg.MaxFailures,
		},
		DisableStream:     !cfg.Stream,
		MaxImageDimension: cfg.MaxDimension,
		Metrics:           sink,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	fmt.Fprintf(os.Stderr, "Uploading %s...\n", imagePath)
	tracking, err := orch.Scan(ctx, imagePath)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Fatal().Msg("Scan cancelled")
		}
		cli.HandleScanError(err)
	}
	log.Info().Str("jobId", tracking.Job.ID).Msg("Analysis started")

	var (
		result  scan.Result
		failure *scanerr.UserFacingError
	)
	err = jobs.Dispatch(ctx, tracking, jobs.Handlers{
		OnStage: func(ev scan.StageEvent, progress int) {
			fmt.Fprintf(os.Stderr, "\r%s %-20s", cli.ProgressBar(progress, 30), cli.StageLabel(string(ev.Stage)))
		},
		OnComplete: func(r scan.Result) {
			fmt.Fprintf(os.Stderr, "\r%s %-20s\n", cli.ProgressBar(100, 30), "Done")
			result = r
		},
		OnFailed: func(f *scanerr.UserFacingError) {
			fmt.Fprintln(os.Stderr)
			failure = f
		},
	})
	// Let the tracking finish its telemetry before any exit path.
	<-tracking.Done()
	if err != nil {
		log.Fatal().Err(err).Str("elapsed", cli.FormatDurationShort(time.Since(start))).Msg("Scan cancelled")
	}
	if failure != nil {
		log.Error().Str("category", failure.Category.String()).Str("detail", failure.Detail).Msg(failure.Message)
		if failure.Action != "" {
			fmt.Fprintln(os.Stderr, failure.Action)
		}
		os.Exit(1)
	}

	classification := safety.Evaluate(result, profile)
	screen := safety.Route(result, classification)
	log.Info().
		Str("jobId", result.ResultID()).
		Str("level", string(classification.Level)).
		Int("score", classification.Score).
		Str("screen", string(screen)).
		Str("elapsed", cli.FormatDurationShort(time.Since(start))).
		Msg("Scan complete")

	if !noHistoryFlag {
		recordHistory(ctx, cfg, history.NewEntry(result, classification, time.Now()))
	}
	printOutcome(os.Stdout, result, classification, screen)
}

func resolveImage(args []string) (string, error) {
	var path string
	var err error
	switch {
	case len(args) == 1:
		path = args[0]
	case pickFlag:
		path, err = cli.PickImage()
	default:
		path, err = cli.PromptForImage(os.Stdin, os.Stderr)
	}
	if err != nil {
		return "", err
	}
	return cli.ValidateImagePath(path)
}

// tokenSource uses the configured session token when one exists and falls
// back to unauthenticated requests otherwise.
func tokenSource() auth.TokenSource {
	src := auth.DefaultSource{}
	if _, err := src.Token(context.Background()); err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			log.Debug().Msg("No session token configured, sending unauthenticated requests")
			return nil
		}
		log.Fatal().Err(err).Msg("Failed to read session token")
	}
	return src
}

func recordHistory(ctx context.Context, cfg config.Config, e history.Entry) {
	hl, closeLog, err := openHistory(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("History unavailable")
		return
	}
	defer closeLog()
	if err := hl.Append(ctx, e); err != nil {
		log.Warn().Err(err).Str("jobId", e.JobID).Msg("Failed to record scan history")
	}
}

func printOutcome(w io.Writer, result scan.Result, c scan.SafetyClassification, screen safety.Screen) {
	if jsonFlag {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(struct {
			Screen safety.Screen             `json:"screen"`
			Safety scan.SafetyClassification `json:"safety"`
			Result scan.Result               `json:"result"`
		}{screen, c, result})
		return
	}
	cli.PrintResult(w, result, c, screen)
}
