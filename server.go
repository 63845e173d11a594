package redisserver

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/admin"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/server"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Server is a Redis-compatible in-memory server
type Server struct {
	// Configuration
	config *config

	// Components
	storage *storage.MemoryStorage
	server  *server.Server
	admin   *admin.Server
	replica *replication.Client

	// State
	mu        sync.RWMutex
	started   bool
	closed    bool
	loadStats replication.LoadStats

	// Background work
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Server with the given options
//
// The server is created but not started. Use Start() to load the snapshot
// and begin accepting connections.
//
// Example:
//
//	srv, err := redisserver.New(
//		redisserver.WithAddr(":6379"),
//		redisserver.WithDir("/var/lib/redis"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Server, error) {
	cfg := defaultConfig()

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	stor := storage.NewMemory(
		storage.WithConfig(configTable(cfg)),
		storage.WithCleanup(cfg.cleanup),
	)

	srv := server.NewServer(cfg.addr, stor)
	srv.SetLogger(&loggerAdapter{logger: cfg.logger})
	srv.SetVersion(RedisVersion)
	if cfg.metrics != nil {
		srv.SetMetrics(cfg.metrics)
	}
	if cfg.tracerProvider != nil {
		srv.SetTracerProvider(cfg.tracerProvider)
	}
	if cfg.readTimeout > 0 {
		srv.SetReadTimeout(cfg.readTimeout)
	}
	if cfg.replicaOf != "" {
		srv.SetRole(server.RoleSlave)
	}

	return &Server{
		config:  cfg,
		storage: stor,
		server:  srv,
	}, nil
}

// configTable builds the parameters served by CONFIG GET
func configTable(cfg *config) map[string]string {
	table := make(map[string]string, len(cfg.extra)+4)
	for name, value := range cfg.extra {
		table[name] = value
	}

	table["dir"] = cfg.dir
	table["dbfilename"] = cfg.dbFilename
	_, port, _ := net.SplitHostPort(cfg.addr)
	table["port"] = port
	if cfg.replicaOf != "" {
		host, primaryPort, _ := net.SplitHostPort(cfg.replicaOf)
		table["replicaof"] = host + " " + primaryPort
	}
	return table
}

// Start loads the snapshot, starts accepting connections and, for a
// replica, runs the handshake with the primary in the background.
//
// Example:
//
//	if err := srv.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	logger := &loggerAdapter{logger: s.config.logger}
	path := filepath.Join(s.config.dir, s.config.dbFilename)
	stats, err := replication.LoadSnapshot(path, s.storage, logger)
	if err != nil {
		return &StartupError{Phase: "snapshot", Err: err}
	}
	s.loadStats = stats
	if s.config.metrics != nil {
		s.config.metrics.RecordSnapshotLoad(stats.Duration, stats.Keys)
		s.config.metrics.RecordKeyCount(int64(s.storage.KeyCount()))
	}

	if err := ctx.Err(); err != nil {
		return &StartupError{Phase: "snapshot", Err: err}
	}

	if err := s.server.Start(); err != nil {
		return &StartupError{Phase: "listen", Err: err}
	}

	if s.config.adminAddr != "" {
		s.admin = admin.NewServer(s, s.config.gatherer)
		if err := s.admin.Start(s.config.adminAddr); err != nil {
			s.server.Stop()
			return &StartupError{Phase: "admin", Err: err}
		}
		s.config.logger.Info("Admin endpoint listening", Field{Key: "addr", Value: s.admin.Addr()})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.config.replicaOf != "" {
		s.replica = replication.NewClient(s.config.replicaOf, listeningPort(s.server.Addr()))
		s.replica.SetLogger(logger)
		s.replica.SetTimeout(s.config.handshakeTimeout)

		s.wg.Add(1)
		go s.replicate(runCtx)
	}

	if s.config.metrics != nil {
		s.wg.Add(1)
		go s.reportKeys(runCtx)
	}

	s.started = true
	s.config.logger.Info("Server started",
		Field{Key: "addr", Value: s.server.Addr()},
		Field{Key: "keys", Value: stats.Keys})
	return nil
}

// replicate runs the handshake with the primary once
func (s *Server) replicate(ctx context.Context) {
	defer s.wg.Done()

	start := time.Now()
	result, err := s.replica.Handshake(ctx)
	if s.config.metrics != nil {
		s.config.metrics.RecordHandshake(time.Since(start), err)
	}
	if err != nil {
		if ctx.Err() == nil {
			s.config.logger.Error("Replication handshake failed",
				Field{Key: "primary", Value: s.config.replicaOf},
				Field{Key: "error", Value: server.ErrorChain(err)})
		}
		return
	}

	s.config.logger.Info("Replicating from primary",
		Field{Key: "primary", Value: s.config.replicaOf},
		Field{Key: "replid", Value: result.ReplicationID},
		Field{Key: "offset", Value: result.Offset})
}

// reportKeys periodically publishes the live key count
func (s *Server) reportKeys(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.keysInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.config.metrics.RecordKeyCount(int64(s.storage.KeyCount()))
		}
	}
}

// Close gracefully shuts down the server
//
// Example:
//
//	defer srv.Close()
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.admin.Stop(ctx); err != nil {
			s.config.logger.Error("Error stopping admin endpoint", Field{Key: "error", Value: err})
		}
		cancel()
	}

	if s.started {
		if err := s.server.Stop(); err != nil {
			s.config.logger.Error("Error stopping server", Field{Key: "error", Value: err})
		}
	}

	if s.replica != nil {
		s.replica.Close()
	}

	return s.storage.Close()
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	return s.server.Addr()
}

// AdminAddr returns the admin endpoint address, empty when disabled
func (s *Server) AdminAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.admin == nil {
		return ""
	}
	return s.admin.Addr()
}

// Storage returns the underlying storage for direct access
//
// Example:
//
//	value, ok := srv.Storage().Get("mykey")
func (s *Server) Storage() storage.Storage {
	return s.storage
}

// LoadStats returns the statistics of the startup snapshot load
func (s *Server) LoadStats() replication.LoadStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadStats
}

// ReplicationStats returns the state of the handshake with the primary.
// The zero value is returned for a primary.
func (s *Server) ReplicationStats() replication.ReplicationStats {
	s.mu.RLock()
	replica := s.replica
	s.mu.RUnlock()

	if replica == nil {
		return replication.ReplicationStats{}
	}
	return replica.Stats()
}

// Health reports whether the server is serving commands
func (s *Server) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case s.closed:
		return ErrClosed
	case !s.started:
		return ErrNotStarted
	}
	return nil
}

// Info returns detailed information about the server
//
// Example:
//
//	info := srv.Info()
//	fmt.Printf("Key count: %v\n", info["keys"])
func (s *Server) Info() map[string]any {
	stats := s.server.Stats()
	load := s.LoadStats()

	role := string(server.RoleMaster)
	if s.config.replicaOf != "" {
		role = string(server.RoleSlave)
	}

	info := map[string]any{
		"addr":              s.Addr(),
		"role":              role,
		"master_replid":     s.storage.ReplicationID(),
		"keys":              s.storage.KeyCount(),
		"connected_clients": stats.ConnectedClients,
		"blocked_clients":   stats.BlockedClients,
		"total_connections": stats.TotalConnections,
		"total_commands":    stats.TotalCommands,
		"total_errors":      stats.TotalErrors,
		"uptime_seconds":    int64(stats.Uptime.Seconds()),
		"snapshot": map[string]any{
			"path":        filepath.Join(s.config.dir, s.config.dbFilename),
			"rdb_version": load.Version,
			"keys":        load.Keys,
			"expired":     load.Expired,
			"skipped":     load.Skipped,
		},
		"version": VersionInfo(),
	}

	if s.config.replicaOf != "" {
		repl := s.ReplicationStats()
		info["replication"] = map[string]any{
			"primary":            s.config.replicaOf,
			"connected":          repl.Connected,
			"replication_id":     repl.ReplicationID,
			"replication_offset": repl.ReplicationOffset,
			"attempts":           repl.Attempts,
		}
	}

	return info
}

// listeningPort extracts the port announced with REPLCONF listening-port
func listeningPort(addr string) int {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return 0
	}
	port, _ := strconv.Atoi(addr[i+1:])
	return port
}
