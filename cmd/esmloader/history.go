package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"esmloader/internal/storage"
)

var (
	historyLimit  int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent builds",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of builds to show")
	historyCmd.Flags().StringVar(&historyFormat, "format", "human", "Output format: human or json")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	proj, err := loadProject()
	if err != nil {
		return err
	}
	defer proj.Close()

	resolved, err := proj.cfg.ResolvePaths(rootDir)
	if err != nil {
		return err
	}
	db, err := storage.Open(resolved.StateDir, proj.logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	builds, err := db.RecentBuilds(context.Background(), historyLimit)
	if err != nil {
		return err
	}

	switch historyFormat {
	case "json":
		if builds == nil {
			builds = []storage.BuildRecord{}
		}
		return writeJSON(os.Stdout, builds)
	case "human":
	default:
		return fmt.Errorf("unknown format %q (use human or json)", historyFormat)
	}

	if len(builds) == 0 {
		fmt.Println("No builds recorded")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tMODE\tSTATUS\tMODULES\tDURATION\tID")
	for _, b := range builds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			b.StartedAt.Local().Format(time.DateTime), b.Mode, b.Status, b.Entries, b.Duration, b.ID[:8])
		if b.Error != "" {
			fmt.Fprintf(tw, "\t\t\t\t\t  %s\n", b.Error)
		}
	}
	return tw.Flush()
}
