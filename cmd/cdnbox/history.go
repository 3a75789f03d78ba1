package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"cdnbox/internal/history"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyDBPath string
	historyLimit  int
	historyLatest bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent webhook redeploys",
	Long: `List the most recent verified webhook deliveries and their outcome,
newest first, followed by totals per status.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDBPath, "db", "", "Path to SQLite history database (default from config)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of records to show")
	historyCmd.Flags().BoolVar(&historyLatest, "latest", false, "Only show the most recent redeploy")
}

func runHistory(cmd *cobra.Command, args []string) error {
	dbPath := historyDBPath
	if dbPath == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		dbPath = cfg.DBPath
	}
	if historyLimit < 1 {
		return fmt.Errorf("--limit must be positive, got %d", historyLimit)
	}

	hist, err := history.NewHistory(dbPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	var records []history.RedeployRecord
	if historyLatest {
		latest, err := hist.GetLatest(cmd.Context())
		if err != nil {
			return err
		}
		if latest != nil {
			records = append(records, *latest)
		}
	} else {
		records, err = hist.List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
	}
	counts, err := hist.CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	printHistory(cmd.OutOrStdout(), records, counts)
	return nil
}

func printHistory(out io.Writer, records []history.RedeployRecord, counts map[string]int) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No redeploys recorded yet.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tEVENT\tCOMMIT\tSTATUS\tDURATION\tERROR")
	for _, r := range records {
		commit := "-"
		if r.CommitHash != nil && *r.CommitHash != "" {
			commit = shortHash(*r.CommitHash)
		}
		duration := "-"
		if r.DurationSeconds != nil {
			duration = humanize.FtoaWithDigits(*r.DurationSeconds, 2) + "s"
		}
		errText := ""
		if r.ErrorMessage != nil {
			errText = firstLine(*r.ErrorMessage)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, humanize.Time(r.StartedAt), r.Event, commit, r.Status, duration, errText)
	}
	tw.Flush()

	fmt.Fprintf(out, "\n%s successful, %s failed\n",
		humanize.Comma(int64(counts[history.StatusSuccess])),
		humanize.Comma(int64(counts[history.StatusFailed])))
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
