package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var historyLimitFlag int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past scans, newest first",
	Args:  cobra.NoArgs,
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimitFlag, "limit", "n", 20, "Maximum entries to show (0 = all)")
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	hl, closeLog, err := openHistory(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("History unavailable")
	}
	defer closeLog()

	entries, err := hl.List(context.Background(), historyLimitFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read history")
	}

	if jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("No scans recorded yet.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tJOB\tKIND\tTITLE\tCONFIDENCE\tSAFETY\tSCORE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\t%d\n",
			e.RecordedAt.Local().Format("2006-01-02 15:04"),
			e.JobID, e.Kind, e.Title, e.Confidence, e.Safety.Level, e.Safety.Score)
	}
	tw.Flush()
}
