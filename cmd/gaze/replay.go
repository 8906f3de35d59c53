package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-gaze/pkg/protocol"
	"github.com/teslashibe/go-gaze/pkg/transport"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.jsonl>",
	Short: "Send recorded gaze samples to a running session",
	Long: `Connects to the gaze channel as the producer and sends one record per line
of a JSONL file, e.g. {"x": 512.3, "y": 300.1, "blink": false}, at a fixed
rate. Stands in for the browser tracker.

Examples:
  gaze replay samples.jsonl
  gaze replay samples.jsonl --rate 60 --loop`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayURL  string
	replayRate float64
	replayLoop bool
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayURL, "url", "", "Gaze channel URL (default from config)")
	replayCmd.Flags().Float64Var(&replayRate, "rate", 30, "Records per second")
	replayCmd.Flags().BoolVar(&replayLoop, "loop", false, "Repeat the file until interrupted")
}

// readRecords parses a JSONL file, skipping blank lines.
func readRecords(path string) ([]protocol.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []protocol.Record
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		parsed, errs := protocol.ParseRecords(data)
		if len(errs) > 0 {
			return nil, fmt.Errorf("%s:%d: %w", path, line, errs[0])
		}
		records = append(records, parsed...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: no records", path)
	}
	return records, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayRate <= 0 {
		return fmt.Errorf("rate must be positive")
	}
	records, err := readRecords(args[0])
	if err != nil {
		return err
	}

	url := replayURL
	if url == "" {
		url = "ws://" + cfg.Transport.Addr + cfg.Transport.GazePath
	}
	ctx := cmd.Context()
	p, err := transport.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer p.Close()
	closed := p.Done()

	fmt.Printf("▶️  Replaying %d records to %s at %.0f/s\n", len(records), url, replayRate)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / replayRate))
	defer ticker.Stop()

	sent := 0
	for {
		for _, r := range records {
			select {
			case <-ctx.Done():
				fmt.Printf("⏹  Sent %d records\n", sent)
				return nil
			case err := <-closed:
				return fmt.Errorf("session closed the channel after %d records: %w", sent, err)
			case <-ticker.C:
			}
			if err := p.Send(r); err != nil {
				return err
			}
			sent++
		}
		if !replayLoop {
			break
		}
	}
	fmt.Printf("✅ Sent %d records\n", sent)
	return nil
}
