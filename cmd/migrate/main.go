package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "SHOP_POSTGRES_DSN"
)

// migrator — часть postgres.Store, нужная утилите.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
}

type options struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

type schemaStatus struct {
	version int64
	applied int
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		fail("%v", err)
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "migrate")

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	status, err := run(ctx, store, opts)
	if err != nil {
		fail("%v", err)
	}
	logger.WithFields(log.Fields{
		"direction": opts.direction,
		"version":   status.version,
		"applied":   status.applied,
	}).Info("migrations ok")
}

func parseArgs(args []string, getenv func(string) string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(output)

	var opts options
	fs.StringVar(&opts.direction, "direction", "up", "up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "migrations to apply or roll back (up: 0 = all, down: at least 1)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (default $"+envPostgresDSN+")")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	switch opts.direction {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported direction %q (use up|down|status)", opts.direction)
	}
	if opts.steps < 0 {
		return options{}, errors.New("steps must not be negative")
	}
	if opts.timeout <= 0 {
		opts.timeout = defaultTimeout
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s or -dsn is required", envPostgresDSN)
	}
	return opts, nil
}

// run выполняет запрошенное действие и возвращает состояние схемы после него.
func run(ctx context.Context, m migrator, opts options) (schemaStatus, error) {
	var err error
	switch opts.direction {
	case "up":
		err = m.MigrateUp(ctx, opts.steps)
	case "down":
		err = m.MigrateDown(ctx, max(opts.steps, 1))
	}
	if err != nil {
		return schemaStatus{}, fmt.Errorf("migrate %s: %w", opts.direction, err)
	}

	version, applied, err := m.MigrationStatus(ctx)
	if err != nil {
		return schemaStatus{}, fmt.Errorf("migration status: %w", err)
	}
	return schemaStatus{version: version, applied: applied}, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
