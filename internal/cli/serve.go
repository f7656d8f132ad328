package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AnatoleLucet/ripple/internal"
	"github.com/AnatoleLucet/ripple/internal/config"
	"github.com/AnatoleLucet/ripple/internal/observability"
	"github.com/AnatoleLucet/ripple/internal/scenario"
	"github.com/AnatoleLucet/ripple/internal/server"
	"github.com/AnatoleLucet/ripple/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type ServeOptions struct {
	*RootOptions

	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <scenario.yaml>",
		Short: "Serve the cells of a scenario over HTTP and WebSocket",
		Long: `Create the cells of a scenario and serve them. Plain cells are persisted
to the configured storage backend, if any.

  GET  /cells            list cells
  GET  /cells/{name}     read a cell
  PUT  /cells/{name}     write a JSON value
  POST /flush            notify subscribers now
  GET  /ws?key=local:cell subscribe to changes
  GET  /metrics          Prometheus metrics`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func serve(ctx context.Context, opts *ServeOptions, path string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())

	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}
	// the served runtime follows the config file, not the scenario
	sc.Runtime = cfg.Runtime

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(
			observability.WithNamespace(cfg.Metrics.Namespace),
			observability.WithRegistry(registry),
		)
	}

	env, err := scenario.Build(sc,
		internal.WithLogger(logger),
		internal.WithObserver(observability.NewSlogObserver(logger)),
		internal.WithMetrics(metrics),
		internal.WithAutoFlush(false),
	)
	if err != nil {
		return err
	}

	closer, err := persistCells(ctx, cfg, env, sc, logger)
	if err != nil {
		return err
	}
	defer closer()

	srv := server.New(env.Runtime, server.Config{
		Addr:          cfg.Server.Addr,
		FlushInterval: cfg.Server.FlushInterval,
		Logger:        logger,
		Gatherer:      registry,
	})

	fmt.Fprintln(cmd.OutOrStdout(), success(fmt.Sprintf("serving %d cells of %q on %s", len(sc.Cells), sc.Name, cfg.Server.Addr), false))
	return srv.Run(ctx)
}

func persistCells(ctx context.Context, cfg *config.Config, env *scenario.Env, sc *scenario.Scenario, logger *slog.Logger) (func(), error) {
	backend, closer, err := cfg.OpenBackend()
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return func() { closer.Close() }, nil
	}

	opts := append(cfg.StorageOptions(), storage.WithLogger(logger), storage.WithObserver(observability.NewSlogObserver(logger)))
	st := storage.New(env.Runtime, backend, opts...)

	for _, spec := range sc.Cells {
		if spec.Derived() {
			continue
		}
		cell, ok := env.Runtime.Lookup(spec.Name)
		if !ok {
			continue
		}
		if err := st.Persist(ctx, cell, spec.Name, nil); err != nil {
			closer.Close()
			return nil, fmt.Errorf("persist %q: %w", spec.Name, err)
		}
	}
	logger.Info("persisting cells", "backend", cfg.Storage.Backend)

	return func() {
		st.Wait()
		closer.Close()
	}, nil
}
