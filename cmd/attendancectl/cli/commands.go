package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
)

// JobsCommand runs one jobs subcommand and returns the process exit code.
//
//	daily [-date YYYY-MM-DD|yesterday]
//	monthly [-month YYYY-MM|previous]
//	queue
//	scheduled [-size N]
func (c *JobsCLI) JobsCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "usage: attendancectl jobs <daily|monthly|queue|scheduled> [flags]")
		return 2
	}
	fs := flag.NewFlagSet("jobs "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "print JSON output")

	switch args[0] {
	case "daily", "monthly":
		name := "date"
		if args[0] == "monthly" {
			name = "month"
		}
		target := fs.String(name, "", "target "+name+"; empty selects the previous one")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		info, err := c.Trigger(ctx, args[0], *target)
		if err != nil {
			return fail(stderr, err)
		}
		return render(stdout, *jsonOut, taskView{ID: info.ID, Type: info.Type, Queue: info.Queue}, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "enqueued %s as %s on queue %s\n", info.Type, info.ID, info.Queue)
		})
	case "queue":
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		return render(stdout, *jsonOut, stats, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "queue %s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		})
	case "scheduled":
		size := fs.Int("size", 10, "number of tasks to list")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		tasks, err := c.ListScheduled(ctx, *size)
		if err != nil {
			return fail(stderr, err)
		}
		views := scheduledView(tasks)
		return render(stdout, *jsonOut, views, func(w io.Writer) {
			if len(views) == 0 {
				_, _ = fmt.Fprintln(w, "no scheduled tasks")
				return
			}
			for _, t := range views {
				_, _ = fmt.Fprintf(w, "%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
			}
		})
	default:
		return fail(stderr, fmt.Errorf("unknown jobs command %q", args[0]))
	}
}

type taskView struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Queue         string     `json:"queue"`
	NextProcessAt *time.Time `json:"next_process_at,omitempty"`
}

func scheduledView(tasks []*asynq.TaskInfo) []taskView {
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		if t == nil {
			continue
		}
		next := t.NextProcessAt
		out = append(out, taskView{ID: t.ID, Type: t.Type, Queue: t.Queue, NextProcessAt: &next})
	}
	return out
}

func render(out io.Writer, asJSON bool, v any, human func(io.Writer)) int {
	if !asJSON {
		human(out)
		return 0
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return 1
	}
	return 0
}

func fail(stderr io.Writer, err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}
