package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"basenet/internal/network/index"
	"basenet/internal/network/ports"
	"basenet/internal/network/protocol"
	"basenet/internal/network/runstats"
	"basenet/internal/network/store"
	"basenet/internal/platform/config"
	"basenet/internal/platform/logger"
	"basenet/internal/reimport"
	dErrors "basenet/pkg/domain-errors"
)

// errFatalRun marks a run that finished with rolled back partitions.
var errFatalRun = errors.New("run finished with failed partitions")

func exitCode(err error) int {
	switch {
	case errors.Is(err, errFatalRun):
		return 2
	case errors.Is(err, reimport.ErrAborted):
		return 3
	default:
		return 1
	}
}

// app carries what every subcommand needs once the config is loaded.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "basenet",
		Short:         "Base network reimport and topology maintenance",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger.New(cfg.Log.Level, cfg.Log.Format)
			slog.SetDefault(a.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file; BASENET_* variables override it")

	root.AddCommand(
		newReimportCmd(a),
		newVernetzungCmd(a),
		newDefragCmd(a),
		newMigrateCmd(a),
		newRelayCmd(a),
	)
	return root
}

func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	if a.cfg.Database.DSN == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "database dsn is required (BASENET_DATABASE_DSN)")
	}
	db, err := sql.Open("postgres", a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ping database")
	}
	return db, nil
}

func (a *app) protocolSink(db *sql.DB) protocol.Recorder {
	return protocol.Multi{protocol.NewLog(a.logger), protocol.NewPostgres(db, a.logger)}
}

// inSession runs fn in one transaction with a fresh index and statistics
// over region.
func (a *app) inSession(ctx context.Context, db *sql.DB, region orb.Bound, fn func(sess *ports.Session) error) (*runstats.Accumulator, error) {
	stats := runstats.New()
	margin := 0.0
	if a.cfg.Partition.BorderMargin != nil {
		margin = *a.cfg.Partition.BorderMargin
	}
	tx := store.NewPostgresTx(db, a.cfg.Database.TxTimeout)
	err := tx.RunInTx(ctx, func(s ports.Store) error {
		sess := &ports.Session{
			Store:    s,
			Index:    index.Load(ctx, s, region, margin, a.logger),
			Stats:    stats,
			Protocol: a.protocolSink(db),
		}
		return fn(sess)
	})
	return stats, err
}

// parseBBox reads "minX,minY,maxX,maxY".
func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, dErrors.Newf(dErrors.CodeValidation, "bbox %q: want minX,minY,maxX,maxY", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("bbox %q", s))
		}
		v[i] = f
	}
	if v[2] < v[0] || v[3] < v[1] {
		return orb.Bound{}, dErrors.Newf(dErrors.CodeValidation, "bbox %q is inverted", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}
