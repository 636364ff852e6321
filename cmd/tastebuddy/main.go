package main

import (
	"os"
	"time"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/config"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Persistent flags
var (
	envFileFlag  string
	logLevelFlag string
	profileFlag  string
	allergyFlags []string
	jsonFlag     bool
)

// rootCmd is the main Cobra command for the tastebuddy CLI.
var rootCmd = &cobra.Command{
	Use:   "tastebuddy",
	Short: "Scan dishes and menus for allergens that matter to you",
	Long: `TasteBuddy uploads a photo of a dish or a menu to the scan service, follows the
analysis as it runs, and checks the detected allergens against your allergen
profile.

Configuration comes from TASTEBUDDY_* environment variables, optionally
loaded from a .env file. Flags override the environment.

Examples:
  tastebuddy scan ./pho.jpg
  tastebuddy scan --pick --allergy peanut:severe --allergy dairy:mild
  tastebuddy evaluate ./analysis.json --profile ~/.tastebuddy/profile.json
  tastebuddy history --limit 5`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logLevelFlag != "" {
			logging.InitWith(os.Stderr, logLevelFlag)
		} else {
			logging.Init()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "Load environment from this file instead of ./.env")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides "+logging.LevelEnv+")")
	rootCmd.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "", "Allergen profile JSON file (overrides "+config.EnvProfilePath+")")
	rootCmd.PersistentFlags().StringArrayVarP(&allergyFlags, "allergy", "a", nil, "Allergen as name[:severity], repeatable (e.g. peanut:severe)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print results as JSON")

	rootCmd.AddCommand(scanCmd, evaluateCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration and logs the startup summary.
func loadConfig() config.Config {
	start := time.Now()
	cfg, err := config.Load(envFileFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if profileFlag != "" {
		cfg.ProfilePath = profileFlag
	}

	logging.NewStartupLogger("tastebuddy").
		Version(version).
		Endpoint("api", cfg.APIURL).
		Feature("stream", cfg.Stream).
		Feature("metrics", cfg.Metrics != "").
		Config("pollInterval", cfg.PollInterval.String()).
		Config("pollTimeout", cfg.PollTimeout.String()).
		Config("historyPath", cfg.HistoryPath).
		Config("historyTable", cfg.HistoryTable).
		Config("profilePath", cfg.ProfilePath).
		InitDuration(time.Since(start)).
		Log()
	return cfg
}
