package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/internal/metrics"
	"github.com/teslashibe/go-gaze/pkg/filter"
	"github.com/teslashibe/go-gaze/pkg/session"
	"github.com/teslashibe/go-gaze/pkg/store"
	"github.com/teslashibe/go-gaze/pkg/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a gaze session and run until stopped",
	Long: `Starts a session: takes over the session marker (terminating any previous
owner), binds the gaze channel and the web server, and renders overlay
frames until interrupted, stopped through the API, or the tracker
disconnects.

Examples:
  gaze serve
  gaze serve --filter kalman --invert-x
  gaze serve --transport 127.0.0.1:9001 --db ~/.gaze/gaze.db`,
	RunE: runServe,
}

var (
	serveTransport string
	serveWeb       string
	serveStatic    string
	serveDB        string
	serveFilter    string
	serveInvertX   bool
	serveBlinkAck  bool
	serveAccessLog bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "Gaze channel listen address")
	serveCmd.Flags().StringVar(&serveWeb, "web", "", "Web server listen address")
	serveCmd.Flags().StringVar(&serveStatic, "static", "", "Overlay page directory")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Session database path (empty disables persistence)")
	serveCmd.Flags().StringVar(&serveFilter, "filter", "", "Smoothing filter: exponential, kalman")
	serveCmd.Flags().BoolVar(&serveInvertX, "invert-x", false, "Mirror x against the viewport width")
	serveCmd.Flags().BoolVar(&serveBlinkAck, "blink-ack", false, "Acknowledge calibration targets with a blink")
	serveCmd.Flags().BoolVar(&serveAccessLog, "access-log", false, "Log every web request")
}

// applyServeFlags lets explicit flags override file and environment.
func applyServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport.Addr = serveTransport
	}
	if flags.Changed("web") {
		cfg.Web.Addr = serveWeb
	}
	if flags.Changed("static") {
		cfg.Web.StaticDir = serveStatic
	}
	if flags.Changed("db") {
		cfg.Store.Path = serveDB
	}
	if flags.Changed("filter") {
		cfg.Filter.Kind = filter.Kind(serveFilter)
	}
	if flags.Changed("invert-x") {
		cfg.Session.InvertX = serveInvertX
	}
	if flags.Changed("blink-ack") {
		cfg.Session.BlinkAcknowledges = serveBlinkAck
	}
	if flags.Changed("access-log") {
		cfg.Web.AccessLog = serveAccessLog
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts, err := cfg.SessionOptions()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	webSrv := web.NewServer(cfg.Web, metrics.NewRegistry())
	ctrlOpts := []session.Option{
		session.WithStatusLog(webSrv),
		session.WithServices(webSrv),
	}

	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		webSrv.SetHistory(db)
		ctrlOpts = append(ctrlOpts, session.WithRecorder(db))
	}

	ctrl := session.NewController(opts, ctrlOpts...)
	webSrv.Attach(ctrl)

	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	st := ctrl.Status()
	fmt.Printf("👁  Gaze session %s (pid %d)\n", st.SessionID, st.PID)
	fmt.Printf("   Tracker:  ws://%s%s\n", st.TransportAddr, cfg.Transport.GazePath)
	fmt.Printf("   Overlay:  ws://%s%s\n", st.TransportAddr, cfg.Transport.StreamPath)
	fmt.Printf("   Web:      http://%s\n", webSrv.Addr())

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		ctrl.Stop(ctx)
	case <-ctrl.Done():
	}

	st = ctrl.Status()
	fmt.Printf("👋 Session ended: %s\n", st.LastEnd)
	if st.LastEnd == session.ReasonTrackerFailed || st.LastEnd == session.ReasonServerFailed {
		return fmt.Errorf("session ended: %s", st.LastError)
	}
	return nil
}
