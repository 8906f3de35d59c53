package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-gaze/internal/httpc"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/protocol"
	"github.com/teslashibe/go-gaze/pkg/web"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run a calibration through the running daemon",
	Long: `Begins a calibration run over the web API and acknowledges each target
after a dwell time, as a user looking at each point would. Prints the
recorded distances and a summary.

Examples:
  gaze calibrate
  gaze calibrate --dwell 3s --width 1920 --height 1080`,
	RunE: runCalibrate,
}

var (
	calibrateDwell  time.Duration
	calibrateWidth  float64
	calibrateHeight float64
)

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.Flags().DurationVar(&calibrateDwell, "dwell", 2*time.Second, "Time on each target before acknowledging")
	calibrateCmd.Flags().Float64Var(&calibrateWidth, "width", 0, "Viewport width (default: as reported by the overlay)")
	calibrateCmd.Flags().Float64Var(&calibrateHeight, "height", 0, "Viewport height")
}

type ackResponse struct {
	Entry    calibration.Entry `json:"entry"`
	Warning  string            `json:"warning"`
	Next     *protocol.Target  `json:"next"`
	Finished bool              `json:"finished"`
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	req := web.BeginRequest{Points: cfg.Calibration.Points}
	if calibrateWidth > 0 && calibrateHeight > 0 {
		req.Viewport = &web.ViewportRequest{Width: calibrateWidth, Height: calibrateHeight}
	}
	var begin struct {
		Target calibration.Target `json:"target"`
	}
	if err := httpc.PostJSON(ctx, apiURL("/api/calibration/begin"), req, &begin); err != nil {
		return err
	}
	fmt.Printf("🎯 Calibrating %d points\n", begin.Target.Total)

	target := begin.Target
	for {
		fmt.Printf("   [%d/%d] look at (%.0f, %.0f)\n", target.Index+1, target.Total, target.X, target.Y)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(calibrateDwell):
		}

		var ack ackResponse
		if err := httpc.PostJSON(ctx, apiURL("/api/calibration/ack"), nil, &ack); err != nil {
			return err
		}
		if ack.Warning != "" {
			fmt.Printf("   ⚠️  %s\n", ack.Warning)
		} else if ack.Entry.Distance != nil {
			fmt.Printf("   ✓ %.1fpx\n", *ack.Entry.Distance)
		}
		if ack.Finished || ack.Next == nil {
			break
		}
		target.Index, target.X, target.Y = ack.Next.Index, ack.Next.X, ack.Next.Y
	}

	var summary struct {
		Summary calibration.Summary `json:"summary"`
	}
	if err := httpc.GetJSON(ctx, apiURL("/api/calibration/summary"), &summary); err != nil {
		return err
	}
	fmt.Println("✅ Calibration finished")
	printSummary(os.Stdout, summary.Summary)
	return nil
}
