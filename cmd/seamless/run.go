package main

import (
	"context"
	"encoding/binary"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/Seamless-Engine/arrow"
	"github.com/VanDung-dev/Seamless-Engine/config"
	"github.com/VanDung-dev/Seamless-Engine/engine"
	"github.com/VanDung-dev/Seamless-Engine/executor/transfer"
	"github.com/VanDung-dev/Seamless-Engine/metrics"
	"github.com/VanDung-dev/Seamless-Engine/network"
	"github.com/VanDung-dev/Seamless-Engine/state"
	"github.com/VanDung-dev/Seamless-Engine/types"
)

const genesisBalance = 1_000_000

type runOptions struct {
	configPath  string
	blocks      int
	txsPerBlock int
	accounts    int
	seed        int64
	store       string
	storePath   string
	arrowDir    string
	publish     string
	metricsAddr string
}

func addRunFlags(fs *pflag.FlagSet, o *runOptions) {
	fs.StringVarP(&o.configPath, "config", "c", "", "YAML config file")
	fs.IntVar(&o.blocks, "blocks", 10, "number of blocks to schedule")
	fs.IntVar(&o.txsPerBlock, "txs", 100, "transactions per block")
	fs.IntVar(&o.accounts, "accounts", 20, "number of funded accounts; fewer accounts means more contention")
	fs.Int64Var(&o.seed, "seed", 1, "workload seed")
	fs.StringVar(&o.store, "store", "", "state backend (memory or pebble)")
	fs.StringVar(&o.storePath, "store-path", "", "pebble directory")
	fs.StringVar(&o.arrowDir, "arrow-dir", "", "write one Arrow IPC file per block into this directory")
	fs.StringVar(&o.publish, "publish", "", "ZeroMQ endpoint to publish schedule summaries on")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
}

func newRunCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Schedule a synthetic transfer workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts, logger)
		},
	}
	addRunFlags(cmd.Flags(), &opts)
	return cmd
}

// loadConfig layers defaults, the config file, the environment and then
// explicitly set flags.
func loadConfig(fs *pflag.FlagSet, o runOptions) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if fs.Changed("store") {
		cfg.Store.Backend = o.store
	}
	if fs.Changed("store-path") {
		cfg.Store.Path = o.storePath
	}
	if fs.Changed("publish") {
		cfg.Publisher.Enabled = o.publish != ""
		cfg.Publisher.Endpoint = o.publish
	}
	if fs.Changed("metrics-addr") {
		cfg.Metrics.Enabled = o.metricsAddr != ""
		cfg.Metrics.Address = o.metricsAddr
	}
	return cfg, cfg.Validate()
}

func accountAddress(i int) types.Address {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i)+1)
	return types.BytesToAddress(b[:])
}

// syntheticTransfers fills the mempool with random transfers between the
// first n accounts.
func syntheticTransfers(pool *engine.Mempool, rng *rand.Rand, n, count int, nonces map[types.Address]uint64) error {
	for i := 0; i < count; i++ {
		from := accountAddress(rng.Intn(n))
		to := accountAddress(rng.Intn(n))
		tx := types.NewTransaction(nonces[from], from, to, uint64(rng.Intn(100)+1), nil)
		nonces[from]++
		if err := pool.Add(tx, rng.Intn(10)); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cfg config.Config, o runOptions, logger *zap.Logger) error {
	if o.blocks <= 0 || o.txsPerBlock <= 0 || o.accounts <= 0 {
		return errors.New("blocks, txs and accounts must be positive")
	}

	store, err := state.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if store.Root() == state.EmptyRoot {
		balances := make(map[types.Address]uint64, o.accounts)
		for i := 0; i < o.accounts; i++ {
			balances[accountAddress(i)] = genesisBalance
		}
		root, err := transfer.Genesis(store, balances)
		if err != nil {
			return errors.Wrap(err, "genesis")
		}
		logger.Info("genesis committed", zap.Int("accounts", o.accounts), zap.Stringer("root", root))
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(cfg.Metrics.Namespace, reg)

	sched, err := engine.NewScheduler(cfg.Scheduler,
		engine.WithLogger(logger.Named("scheduler")),
		engine.WithRecorder(m),
	)
	if err != nil {
		return err
	}
	defer sched.Close()

	// runCtx ends when the workload finishes so the metrics server stops.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Address, reg)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		})
		logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Address))
	}

	var pub *network.ResultPublisher
	if cfg.Publisher.Enabled {
		pub = network.NewResultPublisher(cfg.Publisher.NodeID, cfg.Publisher.Endpoint)
		if err := pub.Start(); err != nil {
			return err
		}
		defer pub.Stop()
		logger.Info("publishing schedules", zap.String("endpoint", cfg.Publisher.Endpoint))
	}

	if o.arrowDir != "" {
		if err := os.MkdirAll(o.arrowDir, 0o755); err != nil {
			return errors.Wrap(err, "arrow dir")
		}
	}

	p := &pipeline{
		opts:      o,
		logger:    logger,
		store:     store,
		sched:     sched,
		metrics:   m,
		publisher: pub,
	}
	if o.arrowDir != "" {
		p.exporter = arrow.NewExporter(o.arrowDir, nil)
	}

	g.Go(func() error {
		defer cancel()
		return p.run(gctx)
	})
	return g.Wait()
}

type pipeline struct {
	opts      runOptions
	logger    *zap.Logger
	store     state.Store
	sched     *engine.Scheduler
	metrics   *metrics.Metrics
	publisher *network.ResultPublisher
	exporter  *arrow.Exporter
}

func (p *pipeline) run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(p.opts.seed))
	pool := engine.NewMempool(p.opts.blocks * p.opts.txsPerBlock)
	nonces := make(map[types.Address]uint64)
	if err := syntheticTransfers(pool, rng, p.opts.accounts, p.opts.blocks*p.opts.txsPerBlock, nonces); err != nil {
		return err
	}
	p.metrics.UpdateMempoolSize(pool.Size())

	builder := engine.NewBlockBuilder(p.opts.txsPerBlock, time.Second, 1, types.Hash{})
	exec := transfer.New()
	start := time.Now()
	var confirmed, rounds int

	for pool.Size() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		blocks := builder.AddBatch(pool.PopBatch(p.opts.txsPerBlock))
		if len(blocks) == 0 {
			if b := builder.ForceFlush(); b != nil {
				blocks = append(blocks, b)
			}
		}
		p.metrics.UpdateMempoolSize(pool.Size())

		for _, block := range blocks {
			res, err := p.process(ctx, block, exec)
			if err != nil {
				return err
			}
			confirmed += len(res.Confirmed)
			rounds += res.ReexecutionRounds
		}
	}
	if block := builder.ForceFlush(); block != nil {
		res, err := p.process(ctx, block, exec)
		if err != nil {
			return err
		}
		confirmed += len(res.Confirmed)
		rounds += res.ReexecutionRounds
	}

	elapsed := time.Since(start)
	p.logger.Info("workload complete",
		zap.Uint64("height", builder.Height()-1),
		zap.Int("transactions", confirmed),
		zap.Int("reexecution_rounds", rounds),
		zap.Duration("elapsed", elapsed),
		zap.Stringer("root", p.store.Root()),
	)
	return nil
}

func (p *pipeline) process(ctx context.Context, block *types.Block, exec engine.Executor) (*engine.ScheduleResult, error) {
	res, err := p.sched.Schedule(ctx, block, p.store, exec)
	if err != nil {
		return nil, errors.Wrapf(err, "block %d", block.Height)
	}
	p.metrics.UpdateWorkerPool(p.sched.PoolStats())

	if p.exporter != nil {
		if _, err := p.exporter.Export(block.Height, res); err != nil {
			return nil, err
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(block.Height, res); err != nil {
			p.logger.Warn("publish failed", zap.Uint64("height", block.Height), zap.Error(err))
		}
	}
	return res, nil
}
