package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-gaze/internal/httpc"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a calibration log",
	Long: `Writes a calibration log as JSON, CSV, an HTML accuracy report or a PNG
plot. Reads the session database, or the running daemon with --live.

Examples:
  gaze export --db gaze.db --format csv > calibration.csv
  gaze export --db gaze.db --session 5f0c... --format html -o report.html
  gaze export --live --format png -o accuracy.png`,
	RunE: runExport,
}

var (
	exportDB      string
	exportSession string
	exportFormat  string
	exportOutput  string
	exportLive    bool
	exportSummary bool
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportDB, "db", "", "Session database (default from config)")
	exportCmd.Flags().StringVar(&exportSession, "session", "", "Session ID (default latest)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Format: json, csv, html, png")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().BoolVar(&exportLive, "live", false, "Read the running daemon instead of the database")
	exportCmd.Flags().BoolVar(&exportSummary, "summary", false, "Print accuracy statistics to stderr")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := calibration.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	var data []byte
	if exportLive {
		data, err = httpc.Get(cmd.Context(), apiURL("/api/calibration/log?format="+string(format)))
		if err != nil {
			return err
		}
	} else {
		entries, err := storedEntries(cmd)
		if err != nil {
			return err
		}
		if exportSummary {
			printSummary(os.Stderr, calibration.Summarize(entries))
		}
		var buf bytes.Buffer
		if err := calibration.Export(&buf, format, entries); err != nil {
			return err
		}
		data = buf.Bytes()
	}

	if exportOutput == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(exportOutput, data, 0o644)
}

// storedEntries loads the chosen session's log from the database.
func storedEntries(cmd *cobra.Command) ([]calibration.Entry, error) {
	path := exportDB
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		return nil, fmt.Errorf("no database: pass --db or set store.path")
	}

	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ctx := cmd.Context()
	id := exportSession
	if id == "" {
		latest, err := db.LatestSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("latest session: %w", err)
		}
		id = latest.ID
	} else if _, err := db.Session(ctx, id); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return db.Entries(ctx, id)
}

func printSummary(w io.Writer, s calibration.Summary) {
	fmt.Fprintf(w, "Points:   %d (%d without prediction)\n", s.Count, s.Missing)
	if s.Count > s.Missing {
		fmt.Fprintf(w, "Distance: mean %.1fpx, median %.1fpx, p90 %.1fpx, sd %.1fpx\n", s.Mean, s.Median, s.P90, s.StdDev)
		fmt.Fprintf(w, "Range:    %.1fpx to %.1fpx\n", s.Min, s.Max)
	}
}
