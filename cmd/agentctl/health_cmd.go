package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/agentic-fabric/pkg/config"
	"github.com/cuemby/agentic-fabric/pkg/stream"
)

// healthCmd implements "agentctl health": a one-shot connectivity and
// backlog check, distinct from serve's long-running /healthz-/readyz
// HTTP endpoints.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print Redis connectivity and per-domain backlog without starting any workers",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := buildFabric(cfg, "")
	if err != nil {
		return fmt.Errorf("build fabric: %w", err)
	}
	defer f.close()

	ctx := context.Background()
	out := map[string]any{}

	if err := f.sc.Ping(ctx); err != nil {
		out["redis"] = fmt.Sprintf("unreachable: %v", err)
	} else {
		out["redis"] = "ok"
	}

	for _, domain := range []string{domainRAG, domainPersist} {
		stats, err := f.sc.Pending(ctx, stream.TaskStream(domain), stream.WorkerGroup(domain))
		if err != nil {
			out[domain] = fmt.Sprintf("pending lookup failed: %v", err)
			continue
		}
		out[domain] = stats
	}

	enc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(enc))
	return nil
}
