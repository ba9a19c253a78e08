package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/odyssey-erp/attendance/cmd/attendancectl/cli"
	"github.com/odyssey-erp/attendance/internal/app"
	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/calendar"
	"github.com/odyssey-erp/attendance/internal/platform/db"
)

const usage = `usage: attendancectl <command> [flags]

commands:
  jobs daily|monthly|queue|scheduled   manage attendance batches
  migrate                              apply database migrations
  holidays import -file feed.ics       import an iCalendar holiday feed
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	switch args[0] {
	case "jobs":
		jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "init jobs cli: %v\n", err)
			return 1
		}
		defer func() {
			if err := jobsCLI.Close(); err != nil {
				logger.Warn("jobs cli close", slog.Any("error", err))
			}
		}()
		return jobsCLI.JobsCommand(ctx, args[1:], stdout, stderr)
	case "migrate":
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
			return 1
		}
		return 0
	case "holidays":
		return importHolidays(ctx, cfg, logger, args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
}

func importHolidays(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "import" {
		_, _ = fmt.Fprintln(stderr, "usage: attendancectl holidays import -file feed.ics [-kind OFFICIAL|MANUAL] [-location code]")
		return 2
	}
	fs := flag.NewFlagSet("holidays import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("file", "", "iCalendar file; - reads stdin")
	kind := fs.String("kind", string(attendance.HolidayOfficial), "holiday kind")
	location := fs.String("location", "", "location code; empty applies everywhere")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if *path == "" {
		_, _ = fmt.Fprintln(stderr, "holidays import: -file is required")
		return 2
	}

	var in io.Reader = os.Stdin
	if *path != "-" {
		f, err := os.Open(*path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "open feed: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "connect postgres: %v\n", err)
		return 1
	}
	defer pool.Close()

	service := calendar.NewService(calendar.NewRepository(pool), logger)
	result, err := service.ImportICS(ctx, in, attendance.HolidayKind(strings.ToUpper(*kind)), *location)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "import holidays: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "imported %d event(s) as %d holiday(s), skipped %d\n", result.Events, result.Holidays, result.Skipped)
	return 0
}
