package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-gaze/internal/httpc"
	"github.com/teslashibe/go-gaze/pkg/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running session",
	Long: `Queries the web API of the running daemon. When no daemon answers, reports
what the session marker says instead.`,
	RunE: runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status JSON")
}

func apiURL(path string) string {
	return "http://" + cfg.Web.Addr + path
}

func runStatus(cmd *cobra.Command, args []string) error {
	var st session.Status
	err := httpc.GetJSON(cmd.Context(), apiURL("/api/status"), &st)
	if err != nil {
		var statusErr *httpc.StatusError
		if errors.As(err, &statusErr) {
			return err
		}
		return reportMarker()
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Printf("State:     %s\n", st.State)
	if st.SessionID != "" {
		fmt.Printf("Session:   %s (pid %d)\n", st.SessionID, st.PID)
		fmt.Printf("Started:   %s\n", st.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Tracker:   %s\n", st.TransportAddr)
		fmt.Printf("Samples:   %d (blinks %d, trail %d)\n", st.Samples, st.Blinks, st.TrailLength)
		if st.Viewport.Known() {
			fmt.Printf("Viewport:  %.0fx%.0f\n", st.Viewport.Width, st.Viewport.Height)
		}
		if st.Transport != nil {
			fmt.Printf("Producer:  connected=%v rejected=%d overlays=%d\n",
				st.Transport.ProducerConnected, st.Transport.SamplesRejected, st.Transport.Consumers)
		}
		if st.Calibration != nil {
			fmt.Printf("Calibrating: point %d of %d\n", st.Calibration.Index+1, st.Calibration.Total)
		}
		fmt.Printf("Calibration entries: %d\n", st.Entries)
	}
	if st.LastEnd != "" {
		fmt.Printf("Last end:  %s\n", st.LastEnd)
	}
	if st.LastError != "" {
		fmt.Printf("Last error: %s\n", st.LastError)
	}
	return nil
}

// reportMarker describes the session marker when the API is unreachable.
func reportMarker() error {
	marker := session.NewMarker(cfg.Session.MarkerPath)
	pid, err := marker.Read()
	if errors.Is(err, session.ErrNoMarker) {
		fmt.Println("State:     idle (no daemon running)")
		return nil
	}
	if err != nil {
		return err
	}

	owned, err := session.OSProcessTable{}.SameProgram(pid)
	if err != nil {
		return err
	}
	if owned {
		fmt.Printf("Marker:    pid %d is running but its web API at %s is unreachable\n", pid, cfg.Web.Addr)
	} else {
		fmt.Printf("Marker:    stale (pid %d is not a running gaze process)\n", pid)
	}
	return nil
}
