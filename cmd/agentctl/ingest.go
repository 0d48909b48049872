package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/agentic-fabric/pkg/config"
)

var (
	ingestPayload     string
	ingestPayloadFile string
	ingestWait        bool
	ingestTimeout     time.Duration
)

// ingestCmd implements "agentctl ingest <flow> --payload-file=f.json [--wait]".
var ingestCmd = &cobra.Command{
	Use:   "ingest <flow>",
	Short: "Submit one task to a registered flow",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestPayload, "payload", "{}", "inline JSON payload")
	ingestCmd.Flags().StringVar(&ingestPayloadFile, "payload-file", "", "path to a JSON payload file, or '-' for stdin")
	ingestCmd.Flags().BoolVar(&ingestWait, "wait", false, "block until the task's result is published")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 30*time.Second, "max time to wait with --wait")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	flow := args[0]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	raw := []byte(ingestPayload)
	switch ingestPayloadFile {
	case "":
	case "-":
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read payload from stdin: %w", err)
		}
	default:
		raw, err = os.ReadFile(ingestPayloadFile)
		if err != nil {
			return fmt.Errorf("read payload file: %w", err)
		}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	f, err := buildFabric(cfg, "")
	if err != nil {
		return fmt.Errorf("build fabric: %w", err)
	}
	defer f.close()

	ctx := context.Background()
	taskID, err := f.reg.Ingest(ctx, flow, payload)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	fmt.Fprintln(os.Stdout, taskID)

	if !ingestWait {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	res, err := f.reg.AwaitResult(waitCtx, flow, taskID, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("await result: %w", err)
	}
	enc, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(enc))
	return nil
}
