package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/volleyhq/rally/internal/config"
	"github.com/volleyhq/rally/internal/core"
	"github.com/volleyhq/rally/internal/db"
	"github.com/volleyhq/rally/internal/gitutil"
	"github.com/volleyhq/rally/internal/storage"
)

var (
	historyJSON   bool
	historyEvents bool
)

var historyCmd = &cobra.Command{
	Use:   "history [pr-url]",
	Short: "Show the recorded rallies for a pull request",
	Long: `Show the recorded rallies for a pull request.

Only rallies run by serve mode are recorded; the history is read from the
same database, so DATABASE_URL must point at it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		owner, repoName, prNumber, err := gitutil.ParsePullRequestURL(args[0])
		if err != nil {
			return fmt.Errorf("invalid PR URL: %w\n\nExpected format: https://github.com/owner/repo/pull/123", err)
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		dbConn, cleanup, err := db.NewDatabase(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to the transcript database: %w", err)
		}
		defer cleanup()
		store := storage.NewStore(dbConn.DB)

		repoFullName := fmt.Sprintf("%s/%s", owner, repoName)
		rallies, err := store.ListRalliesForPR(ctx, repoFullName, prNumber)
		if err != nil {
			return fmt.Errorf("failed to list rallies: %w", err)
		}

		if historyJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(rallies)
		}

		if len(rallies) == 0 {
			dimColor.Printf("No rallies recorded for %s#%d.\n", repoFullName, prNumber)
			return nil
		}

		titleColor.Printf("Rallies for %s#%d\n\n", repoFullName, prNumber)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tOUTCOME\tROUNDS\tREVIEWER\tREVIEWEE\tSTARTED\tDURATION")
		for _, r := range rallies {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
				r.ID,
				r.Outcome,
				r.Rounds,
				r.Reviewer,
				r.Reviewee,
				r.CreatedAt.Format(time.RFC822),
				formatRallyDuration(r),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if !historyEvents {
			return nil
		}
		for _, r := range rallies {
			events, err := store.ListEvents(ctx, r.ID)
			if err != nil {
				return fmt.Errorf("failed to load the transcript of rally %d: %w", r.ID, err)
			}
			fmt.Println()
			titleColor.Printf("Transcript of rally %d\n", r.ID)
			printTranscript(events)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output history as JSON")
	historyCmd.Flags().BoolVar(&historyEvents, "events", false, "Print each rally's full event transcript")
	rootCmd.AddCommand(historyCmd)
}

func formatRallyDuration(r core.Rally) string {
	if r.FinishedAt.IsZero() {
		return "running"
	}
	return r.FinishedAt.Sub(r.CreatedAt).Round(time.Second).String()
}

func printTranscript(events []core.RallyEventRecord) {
	for _, e := range events {
		line := fmt.Sprintf("  %s  round %d  %-24s", e.CreatedAt.Format("15:04:05"), e.Round, e.Kind)
		if e.Agent != "" {
			line += "  " + e.Agent
		}
		fmt.Println(line)

		if summary := transcriptSummary(e); summary != "" {
			dimColor.Printf("      %s\n", summary)
		}
	}
}

// transcriptSummary pulls the one line of a stored event worth showing in a
// terminal listing.
func transcriptSummary(e core.RallyEventRecord) string {
	var ev core.RallyEvent
	if err := json.Unmarshal([]byte(e.Payload), &ev); err != nil {
		return ""
	}
	switch {
	case ev.Reviewer != nil:
		return fmt.Sprintf("%s: %s", ev.Reviewer.Action, firstLine(ev.Reviewer.Summary))
	case ev.Reviewee != nil:
		return fmt.Sprintf("%s: %s", ev.Reviewee.Status, firstLine(ev.Reviewee.Summary))
	case ev.Permission != nil:
		return "wants to run: " + ev.Permission.Action
	case ev.Question != "":
		return "asks: " + firstLine(ev.Question)
	case ev.Err != "":
		return "error: " + firstLine(ev.Err)
	}
	return ""
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
