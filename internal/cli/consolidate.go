package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Harshitk-cp/scholae/internal/config"
	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	consolidateOwner string
	consolidateFrom  string
	consolidateTo    string
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run one consolidation pass for an owner and print the report as JSON",
	RunE:  runConsolidate,
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateOwner, "owner", "", "owner whose memories are consolidated (required)")
	consolidateCmd.Flags().StringVar(&consolidateFrom, "from", "", "window start, RFC3339 (default: unbounded)")
	consolidateCmd.Flags().StringVar(&consolidateTo, "to", "", "window end, RFC3339 (default: now)")
	_ = consolidateCmd.MarkFlagRequired("owner")
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	window, err := parseWindow(consolidateFrom, consolidateTo)
	if err != nil {
		return err
	}

	logger, err := newLogger(config.LogLevel())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	b, err := openBackends(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer b.close()

	svc := newServices(b, logger)
	report, err := svc.consolidation.Consolidate(cmd.Context(), consolidateOwner, window)
	if err != nil {
		return fmt.Errorf("consolidate %s: %w", consolidateOwner, err)
	}
	logger.Debug("consolidation finished", zap.String("owner_id", consolidateOwner), zap.Int("merged", report.Merged))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func parseWindow(from, to string) (domain.TimeWindow, error) {
	var w domain.TimeWindow
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return w, fmt.Errorf("invalid --from: %w", err)
		}
		w.Start = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return w, fmt.Errorf("invalid --to: %w", err)
		}
		w.End = t
	}
	if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		return w, fmt.Errorf("--to must not be before --from")
	}
	return w, nil
}
