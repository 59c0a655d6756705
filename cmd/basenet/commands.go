package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"basenet/internal/network/defrag"
	"basenet/internal/network/events"
	"basenet/internal/network/ports"
	"basenet/internal/network/store"
	"basenet/internal/network/topology"
	"basenet/internal/network/vernetzung"
	"basenet/internal/platform/metrics"
	platformredis "basenet/internal/platform/redis"
	"basenet/internal/reimport"
	"basenet/internal/reimport/source"
	dErrors "basenet/pkg/domain-errors"
	"basenet/pkg/platform/circuit"
)

func newReimportCmd(a *app) *cobra.Command {
	var withRelay bool
	cmd := &cobra.Command{
		Use:   "reimport",
		Short: "Merge the base network source into the graph",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runReimport(cmd.Context(), withRelay)
		},
	}
	cmd.Flags().BoolVar(&withRelay, "relay", true, "publish outbox events to Kafka while the run is in progress")
	return cmd
}

func (a *app) importSource() (reimport.ImportSource, error) {
	switch {
	case a.cfg.Source.URL != "":
		breaker := circuit.New("import_source",
			circuit.WithFailureThreshold(3),
			circuit.WithCooldown(a.cfg.Source.Timeout),
		)
		return source.NewHTTP(a.cfg.Source.URL, a.cfg.Source.Timeout,
			source.WithHTTPLogger(a.logger),
			source.WithBreaker(breaker),
			source.WithRetry(2, time.Second),
		), nil
	case a.cfg.Source.Path != "":
		return source.NewFile(a.cfg.Source.Path, source.WithFileLogger(a.logger)), nil
	}
	return nil, dErrors.New(dErrors.CodeValidation, "an import source path or url is required")
}

func (a *app) executor() (*topology.Executor, error) {
	t := a.cfg.Topology
	return topology.New(topology.Config{
		Tolerance:    t.Tolerance,
		SearchBuffer: t.SearchBuffer,
		LoopBound:    t.LoopBound,
	}, topology.WithLogger(a.logger))
}

func (a *app) locker(ctx context.Context) (reimport.Locker, func(), error) {
	client, err := platformredis.New(ctx, a.cfg.Redis)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "connect redis")
	}
	if client == nil {
		a.logger.WarnContext(ctx, "run_lock_process_local", "reason", "redis not configured")
		return reimport.NewMemoryLocker(), func() {}, nil
	}
	return reimport.NewRedisLocker(client), func() { _ = client.Close() }, nil
}

func (a *app) runReimport(ctx context.Context, withRelay bool) error {
	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	src, err := a.importSource()
	if err != nil {
		return err
	}
	exec, err := a.executor()
	if err != nil {
		return err
	}
	sweep, err := vernetzung.New(a.cfg.Topology.Tolerance, vernetzung.WithLogger(a.logger))
	if err != nil {
		return err
	}
	dj, err := defrag.New(*a.cfg.Defrag.MinSegmentLength, defrag.WithLogger(a.logger))
	if err != nil {
		return err
	}
	locker, closeLocker, err := a.locker(ctx)
	if err != nil {
		return err
	}
	defer closeLocker()

	m := metrics.New()
	job, err := reimport.New(
		reimport.Config{
			Extent:       a.cfg.Partition.Extent.Bound(),
			Partitions:   a.cfg.Partition.Count,
			BorderMargin: *a.cfg.Partition.BorderMargin,
			LockTTL:      a.cfg.Redis.LockTTL,
		},
		store.NewPostgresTx(db, a.cfg.Database.TxTimeout),
		src,
		reimport.DefaultPropertyMapper(),
		exec, sweep, dj,
		reimport.WithLogger(a.logger),
		reimport.WithMetrics(m),
		reimport.WithProtocol(a.protocolSink(db)),
		reimport.WithLocker(locker),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	relayCtx, stopRelay := context.WithCancel(gctx)
	defer stopRelay()

	if withRelay && len(a.cfg.Kafka.Brokers) > 0 {
		relay, closeRelay, err := a.relay(gctx, db)
		if err != nil {
			return err
		}
		defer closeRelay()
		g.Go(func() error { return relay.Run(relayCtx) })
	}

	var fatal bool
	g.Go(func() error {
		defer stopRelay()
		report, err := job.Run(gctx)
		fatal = report.Fatal
		return err
	})
	runErr := g.Wait()

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.Push(pushCtx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
		a.logger.WarnContext(ctx, "metrics_push_failed", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	if fatal {
		return errFatalRun
	}
	return nil
}

func (a *app) relay(ctx context.Context, db *sql.DB) (*events.Relay, func(), error) {
	pub, err := events.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
	if err != nil {
		return nil, nil, err
	}
	if err := pub.EnsureTopic(ctx, 6, 1); err != nil {
		pub.Close()
		return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ensure event topic")
	}
	r := events.NewRelay(events.NewPostgresOutbox(db), pub, events.WithLogger(a.logger))
	return r, pub.Close, nil
}

func newVernetzungCmd(a *app) *cobra.Command {
	var bbox string
	cmd := &cobra.Command{
		Use:   "vernetzung",
		Short: "Re-snap node references and remove orphaned nodes inside a bounding box",
		RunE: func(cmd *cobra.Command, _ []string) error {
			region, err := parseBBox(bbox)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			sweep, err := vernetzung.New(a.cfg.Topology.Tolerance, vernetzung.WithLogger(a.logger))
			if err != nil {
				return err
			}
			stats, err := a.inSession(ctx, db, region, func(sess *ports.Session) error {
				_, err := sweep.Sweep(ctx, sess, region)
				return err
			})
			if err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "vernetzung_committed",
				"nodes_added", stats.NodesAdded,
				"nodes_deleted", stats.NodesDeleted,
				"edges_updated", stats.EdgesUpdated,
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&bbox, "bbox", "", "region as minX,minY,maxX,maxY")
	_ = cmd.MarkFlagRequired("bbox")
	return cmd
}

func newDefragCmd(a *app) *cobra.Command {
	var (
		bbox string
		all  bool
	)
	cmd := &cobra.Command{
		Use:   "defrag",
		Short: "Merge short and equal attribute segments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var region orb.Bound
			switch {
			case all:
				region = a.cfg.Partition.Extent.Bound()
			case bbox != "":
				b, err := parseBBox(bbox)
				if err != nil {
					return err
				}
				region = b
			default:
				return dErrors.New(dErrors.CodeValidation, "either --all or --bbox is required")
			}

			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			dj, err := defrag.New(*a.cfg.Defrag.MinSegmentLength, defrag.WithLogger(a.logger))
			if err != nil {
				return err
			}
			var report defrag.Report
			_, err = a.inSession(ctx, db, region, func(sess *ports.Session) error {
				r, err := dj.RunRegion(ctx, sess, region)
				report = r
				return err
			})
			if err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "defrag_committed",
				"edges", report.Edges,
				"changed", report.Changed,
				"segments_merged", report.SegmentsMerged,
				"healed", report.Healed,
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "defragment every edge in the configured extent")
	cmd.Flags().StringVar(&bbox, "bbox", "", "region as minX,minY,maxX,maxY")
	cmd.MarkFlagsMutuallyExclusive("all", "bbox")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the graph, outbox and protocol tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			return store.EnsureSchema(ctx, db, a.logger)
		},
	}
}

func newRelayCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish outbox events to Kafka",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if len(a.cfg.Kafka.Brokers) == 0 {
				return dErrors.New(dErrors.CodeValidation, "kafka brokers are required")
			}
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			relay, closeRelay, err := a.relay(ctx, db)
			if err != nil {
				return err
			}
			defer closeRelay()

			if once {
				n, err := relay.Flush(ctx)
				if err != nil {
					return fmt.Errorf("flush outbox: %w", err)
				}
				a.logger.InfoContext(ctx, "outbox_flushed", "published", n)
				return nil
			}
			a.logger.InfoContext(ctx, "relay_started", "topic", a.cfg.Kafka.Topic)
			return relay.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "drain the outbox once and exit")
	return cmd
}
