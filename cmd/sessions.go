package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vivacli/viva/internal/interview"
	"github.com/vivacli/viva/internal/report"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored interview sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Run: func(_ *cobra.Command, _ []string) {
		withStore(func(ctx context.Context, store interview.SessionStore) error {
			sessions, err := store.ListSessions(ctx)
			if err != nil {
				return err
			}

			if len(sessions) == 0 {
				fmt.Println("no stored sessions")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNER\tSTATUS\tPROGRESS\tSCORE\tUPDATED")
			for _, sess := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%.1f\t%s\n",
					sess.ID, sess.Owner, sess.Status,
					sess.CurrentIndex, len(sess.Plan),
					sess.RunningAverageScore,
					sess.UpdatedAt.Format(time.RFC3339),
				)
			}
			return w.Flush()
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print one stored session as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		withStore(func(ctx context.Context, store interview.SessionStore) error {
			sess, err := store.GetSession(ctx, args[0])
			if err != nil {
				return err
			}

			pretty, err := json.MarshalIndent(sess, "", "  ")
			if err != nil {
				return err
			}

			fmt.Println(string(pretty))
			return nil
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Print or export the final report of a finished session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(ctx context.Context, store interview.SessionStore) error {
			sess, err := store.GetSession(ctx, args[0])
			if err != nil {
				return err
			}

			rep, err := store.GetReport(ctx, args[0])
			if errors.Is(err, interview.ErrNotFound) && sess.FinalReport != nil {
				// A session can finish while the report row write is
				// still deferred; the session record carries the report.
				rep = sess.FinalReport
				err = nil
			}
			if err != nil {
				return fmt.Errorf("session %s has no report yet (status %s): %w", sess.ID, sess.Status, err)
			}

			dir := cmd.Flag("out").Value.String()
			if dir == "" {
				fmt.Print(report.Render(rep, sess))
				return nil
			}

			path, err := report.Export(dir, rep, sess)
			if err != nil {
				return err
			}

			fmt.Printf("report written to %s\n", path)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)

	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringP("out", "o", "", "directory to write the report file to (prints to stdout when unset)")
}

// withStore opens the configured session store for commands that only read
// stored state.
func withStore(fn func(ctx context.Context, store interview.SessionStore) error) {
	config, err := getConfig()
	if err != nil {
		log.Fatalf("getting a config: %v", err)
	}

	store, closeStore, err := openStore(config)
	if err != nil {
		log.Fatalf("opening the session store: %v", err)
	}

	err = fn(context.Background(), store)
	closeStore()
	if err != nil {
		log.Fatalf("%v", err)
	}
}
