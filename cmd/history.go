package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:         "history",
	Short:       "List recently started renders and remembered directories",
	Annotations: map[string]string{requiresDB: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		runHistory(cmd.Context(), historyLimit)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of sessions to show (0 = all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, limit int) {
	recent, err := DB.ListRecent(ctx)
	if err != nil {
		utils.Die("Failed to read recent directories", err, nil)
	}
	if len(recent) == 0 {
		fmt.Println("No recent directories remembered.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "PROFILE\tSLOT\tRECENT DIRECTORY")
		fmt.Fprintln(w, "-------\t----\t----------------")
		for _, r := range recent {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Profile, r.Slot, r.Dir)
		}
		w.Flush()
	}
	fmt.Println()

	sessions, err := DB.ListSessions(ctx, limit)
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tTARGET\tOUTPUT\tPROCESSORS\tSTARTED")
	fmt.Fprintln(w, "--\t------\t------\t------\t----------\t-------")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s (%s)\t%s\t%s\t%s\n",
			shortID(s.ID),
			filepath.Base(s.Source),
			filepath.Base(s.Target), s.Kind,
			s.Output,
			strings.Join(s.Processors, ","),
			s.StartedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
