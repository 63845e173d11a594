package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	redisserver "github.com/raniellyferreira/redis-inmemory-server"
	"github.com/raniellyferreira/redis-inmemory-server/metrics"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// ServerOptions holds the command line flags
type ServerOptions struct {
	Port       int
	Bind       string
	Dir        string
	DBFilename string
	ReplicaOf  string
	AdminAddr  string
	ConfigFile string
	Verbose    bool
	Cleanup    bool
	Params     map[string]string

	// ready is called once the server accepts connections (for testing)
	ready func(*redisserver.Server)
}

// NewRootCommand creates the redis-server command
func NewRootCommand() *cobra.Command {
	return newRootCommand(&ServerOptions{})
}

func newRootCommand(opts *ServerOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redis-server",
		Short: "In-memory Redis-compatible server",
		Long: `Run an in-memory server speaking the Redis protocol.

The server loads <dir>/<dbfilename> at startup when it exists, serves
strings and streams, and with --replicaof performs the replication
handshake with a primary.

Example:
  redis-server --port 6379 --dir /var/lib/redis --dbfilename dump.rdb
  redis-server --port 6380 --replicaof "localhost 6379"
  redis-server --config redis.yaml --admin-addr :9121`,
		Version:       redisserver.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ConfigFile != "" {
				cfg, err := loadFileConfig(opts.ConfigFile)
				if err != nil {
					return err
				}
				opts.merge(cfg, cmd.Flags().Changed)
			}
			return runServer(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 6379, "TCP port to listen on")
	cmd.Flags().StringVar(&opts.Bind, "bind", "", "interface to bind (all interfaces when empty)")
	cmd.Flags().StringVar(&opts.Dir, "dir", ".", "directory holding the snapshot file")
	cmd.Flags().StringVar(&opts.DBFilename, "dbfilename", "dump.rdb", "snapshot file name")
	cmd.Flags().StringVar(&opts.ReplicaOf, "replicaof", "", `primary to replicate from, as "host port"`)
	cmd.Flags().StringVar(&opts.AdminAddr, "admin-addr", "", "address of the HTTP admin endpoint (disabled when empty)")
	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.Flags().BoolVar(&opts.Cleanup, "active-expire", false, "sweep expired keys in the background")

	return cmd
}

// serverOptions translates the flags into library options
func (o *ServerOptions) serverOptions(logger redisserver.Logger) []redisserver.Option {
	opts := []redisserver.Option{
		redisserver.WithAddr(net.JoinHostPort(o.Bind, strconv.Itoa(o.Port))),
		redisserver.WithDir(o.Dir),
		redisserver.WithDBFilename(o.DBFilename),
		redisserver.WithLogger(logger),
	}
	if o.ReplicaOf != "" {
		opts = append(opts, redisserver.WithReplicaOf(o.ReplicaOf))
	}
	if o.Cleanup {
		opts = append(opts, redisserver.WithCleanup(storage.CleanupConfigDefault))
	}
	for name, value := range o.Params {
		opts = append(opts, redisserver.WithConfig(name, value))
	}

	if o.AdminAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts,
			redisserver.WithAdminAddr(o.AdminAddr),
			redisserver.WithMetrics(metrics.New(registry)),
			redisserver.WithGatherer(registry),
		)
	}
	return opts
}

func runServer(cmd *cobra.Command, opts *ServerOptions) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := redisserver.NewLogger(cmd.ErrOrStderr(), logLevel)

	srv, err := redisserver.New(opts.serverOptions(logger)...)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			logger.Error("error closing server", redisserver.Field{Key: "error", Value: closeErr})
		}
	}()

	// Setup signal handling for graceful shutdown
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ready to accept connections on %s\n", srv.Addr())
	if opts.ready != nil {
		opts.ready(srv)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
