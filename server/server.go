package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// tracerName identifies the spans produced by this package
const tracerName = "github.com/raniellyferreira/redis-inmemory-server/server"

// Logger interface for server logging
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// MetricsCollector interface for server metrics
type MetricsCollector interface {
	RecordCommand(cmd string, duration time.Duration, failed bool)
	RecordConnection(opened bool)
	RecordBlockedClient(delta int)
	RecordProtocolError(kind string)
}

// Role is the replication role reported by INFO
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Server provides Redis protocol server functionality
type Server struct {
	storage storage.Storage

	// Server configuration
	addr        string
	role        Role
	version     string
	readTimeout time.Duration

	// Connection management
	listener net.Listener
	clients  sync.Map // map[string]*Client

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Observability
	logger  Logger
	metrics MetricsCollector
	tracer  trace.Tracer

	// Counters
	connCount    atomic.Int64
	commandCount atomic.Int64
	errorCount   atomic.Int64
	blocked      atomic.Int64
	startTime    time.Time
}

// Client represents a connected Redis client
type Client struct {
	id     string
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	server *Server

	// Control
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewServer creates a new Redis protocol server
func NewServer(addr string, store storage.Storage) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		storage:   store,
		addr:      addr,
		role:      RoleMaster,
		version:   "7.2.0",
		ctx:       ctx,
		cancel:    cancel,
		logger:    nopLogger{},
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
		startTime: time.Now(),
	}
}

// SetLogger sets the logger for the server
func (s *Server) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics sets the metrics collector for the server
func (s *Server) SetMetrics(metrics MetricsCollector) {
	s.metrics = metrics
}

// SetTracerProvider sets the provider of the per-command tracer
func (s *Server) SetTracerProvider(tp trace.TracerProvider) {
	if tp != nil {
		s.tracer = tp.Tracer(tracerName)
	}
}

// SetRole sets the replication role reported by INFO
func (s *Server) SetRole(role Role) {
	s.role = role
}

// SetVersion sets the version reported by INFO server
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetReadTimeout closes connections idle for longer than timeout; zero
// disables the deadline.
func (s *Server) SetReadTimeout(timeout time.Duration) {
	s.readTimeout = timeout
}

// Start starts listening and serving connections in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.logger.Info("Server listening", "addr", listener.Addr().String(), "role", string(s.role))

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop stops accepting connections, closes every client and waits for
// their goroutines to finish
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.clients.Range(func(_, value any) bool {
		value.(*Client).Close()
		return true
	})

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stats returns server statistics
func (s *Server) Stats() Stats {
	clients := 0
	s.clients.Range(func(_, _ any) bool {
		clients++
		return true
	})

	return Stats{
		ConnectedClients: clients,
		TotalConnections: s.connCount.Load(),
		TotalCommands:    s.commandCount.Load(),
		TotalErrors:      s.errorCount.Load(),
		BlockedClients:   s.blocked.Load(),
		Uptime:           time.Since(s.startTime),
	}
}

// Stats holds server counters
type Stats struct {
	ConnectedClients int
	TotalConnections int64
	TotalCommands    int64
	TotalErrors      int64
	BlockedClients   int64
	Uptime           time.Duration
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Accept failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient registers a connection and starts its goroutine
func (s *Server) handleNewClient(conn net.Conn) {
	s.connCount.Add(1)

	ctx, cancel := context.WithCancel(s.ctx)
	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		reader: protocol.NewReader(conn),
		writer: protocol.NewWriter(conn),
		server: s,
		ctx:    ctx,
		cancel: cancel,
	}

	s.clients.Store(client.id, client)
	if s.metrics != nil {
		s.metrics.RecordConnection(true)
	}
	s.logger.Debug("Client connected", "client", client.id, "addr", conn.RemoteAddr().String())

	s.wg.Add(1)
	go client.handle()
}

// ID returns the unique identifier of the connection
func (c *Client) ID() string {
	return c.id
}

// Close closes the client connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
		c.server.clients.Delete(c.id)
		if c.server.metrics != nil {
			c.server.metrics.RecordConnection(false)
		}
		c.server.logger.Debug("Client disconnected", "client", c.id)
	})
}

// handle serves commands until the connection fails or the client quits
func (c *Client) handle() {
	defer c.server.wg.Done()
	defer c.Close()

	for {
		if c.server.readTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.server.readTimeout))
		}

		value, err := c.reader.ReadNext()
		if err != nil {
			c.readFailed(err)
			return
		}

		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			c.server.errorCount.Add(1)
			if !c.reply(protocol.Error("ERR", "Protocol error: "+err.Error())) {
				return
			}
			continue
		}

		reply, quit, err := c.execute(cmd)
		if err != nil {
			c.server.logger.Debug("Closing connection after command",
				"client", c.id, "command", cmd.Name, "error", ErrorChain(err))
			return
		}
		if !c.reply(reply) || quit {
			return
		}
	}
}

// readFailed logs the error that ended the read loop. Decode errors are
// answered with a best-effort protocol error before the connection closes.
func (c *Client) readFailed(err error) {
	switch {
	case errors.Is(err, io.EOF):
		return
	case c.ctx.Err() != nil:
		return
	}

	kind := "io"
	if protocol.IsDecodeError(err) {
		kind = "decode"
		c.writer.WriteValue(protocol.Error("ERR", "Protocol error: "+err.Error()))
		c.writer.Flush()
	}
	if c.server.metrics != nil {
		c.server.metrics.RecordProtocolError(kind)
	}

	wrapped := fmt.Errorf("reading command from %s: %w", c.conn.RemoteAddr(), err)
	c.server.logger.Error("Connection failed", "client", c.id, "kind", kind, "error", ErrorChain(wrapped))
}

// reply writes one value and flushes it. It reports false when the
// connection can no longer be written.
func (c *Client) reply(v protocol.Value) bool {
	if err := c.writer.WriteValue(v); err == nil {
		err = c.writer.Flush()
		if err == nil {
			return true
		}
	}
	if c.ctx.Err() == nil {
		c.server.logger.Error("Writing reply failed", "client", c.id)
	}
	return false
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
