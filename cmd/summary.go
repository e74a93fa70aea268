package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/termctx/internal/analytics"
	"github.com/fakeyudi/termctx/internal/export"
)

var (
	summaryJSON   bool
	summaryByText bool
	summaryTop    int
)

var summaryCmd = &cobra.Command{
	Use:   "summary <export>",
	Short: "Recompute session analytics from an export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadExport(args[0])
		if err != nil {
			return err
		}

		c := GetConfig()
		opts := analytics.Options{
			Start:         doc.Session.StartTime,
			IdleThreshold: c.Analytics.IdleThreshold.D(),
			TopK:          c.Analytics.TopCommands,
			ByText:        c.Analytics.ByText || summaryByText,
		}
		if doc.Session.StopTime != nil {
			opts.Now = *doc.Session.StopTime
		}
		if summaryTop > 0 {
			opts.TopK = summaryTop
		}
		s := analytics.Summarize(doc.Events, opts)
		s.BufferSize = doc.Summary.BufferSize
		s.Evicted = doc.Summary.Evicted
		s.Degraded = doc.Summary.Degraded
		if s.Degraded == nil {
			s.Degraded = []string{}
		}

		if summaryJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		printSummary(cmd.OutOrStdout(), s)
		return nil
	},
}

// loadExport parses the export at path with a friendlier error for a
// missing file.
func loadExport(path string) (*export.Document, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	return export.Parse(path)
}

func printSummary(w io.Writer, s analytics.Summary) {
	fmt.Fprintf(w, "Duration:        %s (active %s)\n", s.Duration.Round(time.Second), s.ActiveDuration.Round(time.Second))
	fmt.Fprintf(w, "Events:          %s", humanize.Comma(int64(s.TotalEvents)))
	if s.Evicted > 0 {
		fmt.Fprintf(w, " (%s evicted)", humanize.Comma(int64(s.Evicted)))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Commands:        %s (%d with output)\n", humanize.Comma(int64(s.TotalCommands)), s.TotalOutputs)
	fmt.Fprintf(w, "Processes:       %s\n", humanize.Comma(int64(s.TotalProcesses)))
	fmt.Fprintf(w, "File accesses:   %s\n", humanize.Comma(int64(s.TotalFileAccess)))
	if s.CurrentDirectory != "" {
		fmt.Fprintf(w, "Directory:       %s (%d changes)\n", s.CurrentDirectory, s.DirectoryChanges)
	}
	if len(s.Degraded) > 0 {
		fmt.Fprintf(w, "Degraded:        %s\n", strings.Join(s.Degraded, ", "))
	}

	printCounts(w, "Top commands", s.CommandFrequency)
	printCounts(w, "Languages", s.PrimaryLanguages)

	if len(s.FileAccess) > 0 {
		fmt.Fprintln(w, "\nFile access:")
		ops := lo.Keys(s.FileAccess)
		slices.Sort(ops)
		for _, op := range ops {
			fmt.Fprintf(w, "  %-10s %d\n", op, s.FileAccess[op])
		}
	}
	if len(s.RecentFiles) > 0 {
		fmt.Fprintln(w, "\nRecent files:")
		for _, f := range s.RecentFiles {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
}

func printCounts(w io.Writer, title string, counts []analytics.Count) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for i, c := range counts {
		fmt.Fprintf(w, "  %2d. %-24s %d\n", i+1, c.Name, c.Count)
	}
}

func init() {
	summaryCmd.Flags().BoolVar(&summaryJSON, "json", false, "Print the summary as JSON")
	summaryCmd.Flags().BoolVar(&summaryByText, "by-text", false, "Rank full command lines instead of program names")
	summaryCmd.Flags().IntVar(&summaryTop, "top", 0, "Number of top commands and languages to show")
	rootCmd.AddCommand(summaryCmd)
}
