package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-gaze/pkg/session"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running session",
	Long: `Terminates the process recorded in the session marker: SIGTERM first, then
SIGKILL if it does not exit in time. A stale marker is removed.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	marker := session.NewMarker(cfg.Session.MarkerPath)
	pid, err := session.TerminateOwner(cmd.Context(), marker, session.OSProcessTable{}, cfg.Session.TerminateTimeout)
	if errors.Is(err, session.ErrNoMarker) {
		fmt.Println("No session running")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("✅ Stopped session owner (pid %d)\n", pid)
	return nil
}
