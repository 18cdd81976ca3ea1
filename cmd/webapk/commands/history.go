package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/eventstore"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	ID    string `arg:"" optional:"" help:"Show a single build as JSON"`
	Limit int    `short:"n" help:"Number of builds to show" default:"20"`
	JSON  bool   `name:"json" help:"Print JSON instead of a table"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := LoadConfig(root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.State.EventDB); os.IsNotExist(err) {
		return errors.NotFoundError("no build history recorded yet").
			WithContext("path", cfg.State.EventDB).
			Build()
	}
	store, err := eventstore.NewSQLiteStore(cfg.State.EventDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	projection := eventstore.NewBuildHistoryProjection(store, h.Limit)
	if err := projection.Rebuild(context.Background()); err != nil {
		return err
	}

	enc := json.NewEncoder(g.out())
	enc.SetIndent("", "  ")
	if h.ID != "" {
		summary, ok := projection.GetBuild(h.ID)
		if !ok {
			return errors.NotFoundError("build not found in recent history").
				WithContext("build_id", h.ID).
				Build()
		}
		return enc.Encode(summary)
	}

	history := projection.GetHistory()
	if h.JSON {
		return enc.Encode(history)
	}

	tw := tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "BUILD\tAPP\tSTATUS\tQUEUED\tDURATION\tDETAIL")
	for _, b := range history {
		detail := b.ArtifactPath
		if b.ErrorMessage != "" {
			detail = b.ErrorStage + ": " + b.ErrorMessage
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			b.BuildID, b.AppID, b.Status,
			b.QueuedAt.Local().Format(time.DateTime),
			time.Duration(b.DurationMS)*time.Millisecond,
			detail)
	}
	return tw.Flush()
}
