package replication

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// Client performs the replica side of the replication handshake
type Client struct {
	primaryAddr   string
	listeningPort int

	dialer  *net.Dialer
	timeout time.Duration
	logger  Logger

	mu    sync.Mutex
	conn  net.Conn
	stats ReplicationStats
}

// ReplicationStats tracks the outcome of the handshake
type ReplicationStats struct {
	Connected         bool
	PrimaryAddr       string
	ReplicationID     string
	ReplicationOffset int64
	LastHandshake     time.Time
	Attempts          int64
}

// HandshakeResult is the replication position announced by FULLRESYNC
type HandshakeResult struct {
	ReplicationID string
	Offset        int64
}

// NewClient creates a handshake client for the primary at primaryAddr.
// listeningPort is announced with REPLCONF listening-port.
func NewClient(primaryAddr string, listeningPort int) *Client {
	return &Client{
		primaryAddr:   primaryAddr,
		listeningPort: listeningPort,
		dialer:        &net.Dialer{Timeout: 5 * time.Second},
		timeout:       10 * time.Second,
		logger:        nopLogger{},
		stats:         ReplicationStats{PrimaryAddr: primaryAddr},
	}
}

// SetLogger sets the logger for the client
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetTimeout bounds the whole handshake; zero relies on ctx alone
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Handshake connects to the primary and runs PING, REPLCONF listening-port,
// REPLCONF capa psync2 and PSYNC ? -1. On success the connection stays open
// until Close.
func (c *Client) Handshake(ctx context.Context) (HandshakeResult, error) {
	c.mu.Lock()
	c.stats.Attempts++
	c.mu.Unlock()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.logger.Debug("Connecting to primary", "addr", c.primaryAddr)
	conn, err := c.dialer.DialContext(ctx, "tcp", c.primaryAddr)
	if err != nil {
		return HandshakeResult{}, &HandshakeError{Step: "connect", Err: err}
	}

	// Unblock pending reads and writes when ctx ends
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	result, err := c.exchange(conn)
	if err != nil {
		conn.Close()
		return HandshakeResult{}, err
	}
	if !stop() {
		conn.Close()
		return HandshakeResult{}, &HandshakeError{Step: "PSYNC", Err: ctx.Err()}
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.stats.Connected = true
	c.stats.ReplicationID = result.ReplicationID
	c.stats.ReplicationOffset = result.Offset
	c.stats.LastHandshake = time.Now()
	c.mu.Unlock()

	c.logger.Info("Handshake with primary completed",
		"addr", c.primaryAddr,
		"replid", result.ReplicationID,
		"offset", result.Offset)
	return result, nil
}

func (c *Client) exchange(conn net.Conn) (HandshakeResult, error) {
	// The reader shares br, so an error reply's text can still be read
	// after ReadNext rejects its type byte.
	br := bufio.NewReader(conn)
	reader := protocol.NewReader(br)
	writer := protocol.NewWriter(conn)

	steps := []struct {
		name   string
		args   []string
		expect string
	}{
		{"PING", []string{"PING"}, "PONG"},
		{"REPLCONF listening-port", []string{"REPLCONF", "listening-port", strconv.Itoa(c.listeningPort)}, "OK"},
		{"REPLCONF capa", []string{"REPLCONF", "capa", "psync2"}, "OK"},
	}

	for _, step := range steps {
		reply, err := roundTrip(br, reader, writer, step.args)
		if err != nil {
			return HandshakeResult{}, &HandshakeError{Step: step.name, Err: err}
		}
		if reply.Type != protocol.TypeSimpleString || !strings.EqualFold(reply.Str, step.expect) {
			return HandshakeResult{}, &HandshakeError{
				Step: step.name,
				Err:  fmt.Errorf("%w: %s", ErrUnexpectedReply, reply),
			}
		}
		c.logger.Debug("Handshake step completed", "step", step.name)
	}

	reply, err := roundTrip(br, reader, writer, []string{"PSYNC", "?", "-1"})
	if err != nil {
		return HandshakeResult{}, &HandshakeError{Step: "PSYNC", Err: err}
	}
	result, err := ParseFullResync(reply)
	if err != nil {
		return HandshakeResult{}, &HandshakeError{Step: "PSYNC", Err: err}
	}
	return result, nil
}

func roundTrip(br *bufio.Reader, reader *protocol.Reader, writer *protocol.Writer, args []string) (protocol.Value, error) {
	if err := writer.WriteCommand(args...); err != nil {
		return protocol.Value{}, err
	}
	if err := writer.Flush(); err != nil {
		return protocol.Value{}, err
	}

	reply, err := reader.ReadNext()
	var unknown *protocol.UnknownTypeError
	if errors.As(err, &unknown) && unknown.Byte == byte(protocol.TypeError) {
		line, _ := br.ReadString('\n')
		return protocol.Value{}, &PrimaryError{Message: strings.TrimRight(line, "\r\n")}
	}
	return reply, err
}

// ParseFullResync parses "+FULLRESYNC <replid> <offset>"
func ParseFullResync(reply protocol.Value) (HandshakeResult, error) {
	if reply.Type != protocol.TypeSimpleString {
		return HandshakeResult{}, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
	}

	parts := strings.Fields(reply.Str)
	if len(parts) != 3 || parts[0] != "FULLRESYNC" {
		return HandshakeResult{}, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Str)
	}

	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("%w: invalid offset %q", ErrUnexpectedReply, parts[2])
	}
	return HandshakeResult{ReplicationID: parts[1], Offset: offset}, nil
}

// Stats returns a snapshot of the handshake statistics
func (c *Client) Stats() ReplicationStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close closes the connection to the primary, if any
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
