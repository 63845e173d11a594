package server

import (
	"context"
	"fmt"
	"iter"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
	"github.com/raniellyferreira/redis-inmemory-server/stream"
)

type commandHandler func(c *Client, ctx context.Context, cmd *protocol.Command) (protocol.Value, error)

// commandSpec describes one supported command. Arity counts the command
// name; a negative arity is a minimum.
type commandSpec struct {
	handler commandHandler
	arity   int
}

var commands = map[string]commandSpec{
	"PING":     {(*Client).handlePing, -1},
	"ECHO":     {(*Client).handleEcho, 2},
	"GET":      {(*Client).handleGet, 2},
	"SET":      {(*Client).handleSet, -3},
	"TYPE":     {(*Client).handleType, 2},
	"KEYS":     {(*Client).handleKeys, 2},
	"XADD":     {(*Client).handleXAdd, -5},
	"XRANGE":   {(*Client).handleXRange, -4},
	"XREAD":    {(*Client).handleXRead, -4},
	"CONFIG":   {(*Client).handleConfig, -2},
	"INFO":     {(*Client).handleInfo, -1},
	"REPLCONF": {(*Client).handleReplconf, -3},
	"COMMAND":  {(*Client).handleCommand, -1},
	"QUIT":     {(*Client).handleQuit, -1},
}

// execute runs one command inside its own span. A non-nil error means the
// connection must be closed; command-level failures come back as error
// replies instead.
func (c *Client) execute(cmd *protocol.Command) (reply protocol.Value, quit bool, err error) {
	start := time.Now()
	c.server.commandCount.Add(1)

	ctx, span := c.server.tracer.Start(c.ctx, cmd.Name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", cmd.Name),
			attribute.String("db.client.id", c.id),
		),
	)
	defer span.End()

	reply, err = c.dispatch(ctx, cmd)
	failed := err != nil
	if failed {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		cmdErr, ok := commandError(cmd.Name, err)
		if !ok {
			c.recordCommand(cmd.Name, start, true)
			return protocol.Value{}, false, err
		}
		c.server.errorCount.Add(1)
		reply = protocol.Error(cmdErr.Kind, cmdErr.Message)
	}

	c.recordCommand(cmd.Name, start, failed)
	return reply, cmd.Name == "QUIT" && !failed, nil
}

func (c *Client) dispatch(ctx context.Context, cmd *protocol.Command) (protocol.Value, error) {
	spec, ok := commands[cmd.Name]
	if !ok {
		return protocol.Value{}, unknownCommand(cmd)
	}

	n := len(cmd.Args) + 1
	if (spec.arity > 0 && n != spec.arity) || (spec.arity < 0 && n < -spec.arity) {
		return protocol.Value{}, errWrongArgs(cmd.Name)
	}

	return spec.handler(c, ctx, cmd)
}

func (c *Client) recordCommand(name string, start time.Time, failed bool) {
	if c.server.metrics != nil {
		c.server.metrics.RecordCommand(name, time.Since(start), failed)
	}
}

func unknownCommand(cmd *protocol.Command) *CommandError {
	var b strings.Builder
	for _, arg := range cmd.Args {
		fmt.Fprintf(&b, "'%s' ", arg)
	}
	return errorf("unknown command '%s', with args beginning with: %s", strings.ToLower(cmd.Name), b.String())
}

func (c *Client) handlePing(_ context.Context, cmd *protocol.Command) (protocol.Value, error) {
	switch len(cmd.Args) {
	case 0:
		return protocol.SimpleString("PONG"), nil
	case 1:
		return protocol.BulkString(cmd.Args[0]), nil
	default:
		return protocol.Value{}, errWrongArgs(cmd.Name)
	}
}

func (c *Client) handleEcho(_ context.Context, cmd *protocol.Command) (protocol.Value, error) {
	return protocol.BulkString(cmd.Args[0]), nil
}

func (c *Client) handleGet(_ context.Context, cmd *protocol.Command) (protocol.Value, error) {
	var (
		reply = protocol.NullBulkString()
		err   error
	)

	c.server.storage.View(cmd.Args[0], func(v storage.Value) {
		switch v := v.(type) {
		case storage.StringValue:
			reply = protocol.BulkString(v.Data)
		case storage.StreamValue:
			err = storage.ErrWrongType
		}
	})

	return reply, err
}

func (c *Client) handleSet(_ context.Context, cmd *protocol.Command) (protocol.Value, error) {
	key, value := cmd.Args[0], cmd.Args[1]

	var expiresAt *time.Time
	for i := 2; i < len(cmd.Args); i++ {
		option := strings.ToUpper(cmd.Args[i])
		if (option != "EX" && option != "PX") || expiresAt != nil || i+1 >= len(cmd.Args) {
			return protocol.Value{}, errSyntax
		}

		n, err := strconv.ParseInt(cmd.Args[i+1], 10, 64)
		if err != nil {
			return protocol.Value{}, errNotInteger
		}
		unit := time.Millisecond
		if option == "EX" {
			unit = time.Second
		}
		if n <= 0 || n > int64(math.MaxInt64/unit) {
			return protocol.Value{}, errorf("invalid expire time in 'set' command")
		}
		at := time.Now().Add(time.Duration(n) * unit)
		expiresAt = &at
		i++
	}

	c.server.storage.Set(key, storage.StringValue{Data: value}, expiresAt)
	return protocol.SimpleString("OK"), nil
}

func (c *Client) handleType(_ context.Context, cmd *protocol.Command) (protocol.Value, error) {
	return protocol.SimpleString(c.server.storage.Type(cmd.Args[0]).String()), nil
}

func (c *Client) handleKeys(_ context.Context, cmd *protocol.Command) (protocol.Value, error) {
	return protocol.BulkStrings(c.server.storage.Keys(cmd.Args[0])...), nil
}

func (c *Client) handleXAdd(_ context.Context, cmd *protocol.Command) (protocol.Value, error) {
	key, pairs := cmd.Args[0], cmd.Args[2:]
	if len(pairs)%2 != 0 {
		return protocol.Value{}, errWrongArgs(cmd.Name)
	}

	provided, err := stream.ParseProvidedID(cmd.Args[1])
	if err != nil {
		return protocol.Value{}, fmt.Errorf("parsing entry id %q: %w", cmd.Args[1], err)
	}

	fields := make([]stream.Field, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		fields = append(fields, stream.Field{Name: pairs[i], Value: pairs[i+1]})
	}

	id, err := c.server.storage.InsertStreamEntry(key, provided, fields)
	if err != nil {
		return protocol.Value{}, err
	}
	return protocol.BulkString(id.String()), nil
}

func (c *Client) handleXRange(_ context.Context, cmd *protocol.Command) (protocol.Value, error) {
	key := cmd.Args[0]

	lo, err := stream.ParseRangeStart(cmd.Args[1])
	if err != nil {
		return protocol.Value{}, err
	}
	hi, err := stream.ParseRangeEnd(cmd.Args[2])
	if err != nil {
		return protocol.Value{}, err
	}

	limit := -1
	switch len(cmd.Args) {
	case 3:
	case 5:
		if !strings.EqualFold(cmd.Args[3], "COUNT") {
			return protocol.Value{}, errSyntax
		}
		n, err := strconv.Atoi(cmd.Args[4])
		if err != nil {
			return protocol.Value{}, errNotInteger
		}
		limit = max(n, 0)
	default:
		return protocol.Value{}, errSyntax
	}

	wrongType := false
	reply, ok := storage.GetRef(c.server.storage, key, func(v storage.Value) protocol.Value {
		sv, isStream := v.(storage.StreamValue)
		if !isStream {
			wrongType = true
			return protocol.Value{}
		}
		return entriesValue(sv.Stream.Range(lo, hi), limit)
	})

	switch {
	case wrongType:
		return protocol.Value{}, storage.ErrWrongType
	case !ok:
		return protocol.Array(), nil
	}
	return reply, nil
}

func (c *Client) handleXRead(ctx context.Context, cmd *protocol.Command) (protocol.Value, error) {
	var (
		limit = -1
		block = storage.NoBlock()
		keys  []string
	)

	args := cmd.Args
options:
	for i := 0; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "COUNT":
			if i+1 >= len(args) {
				return protocol.Value{}, errSyntax
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return protocol.Value{}, errNotInteger
			}
			if n > 0 {
				limit = n
			}
			i++
		case "BLOCK":
			if i+1 >= len(args) {
				return protocol.Value{}, errSyntax
			}
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return protocol.Value{}, errorf("timeout is not an integer or out of range")
			}
			if ms < 0 {
				return protocol.Value{}, errorf("timeout is negative")
			}
			block = storage.BlockFor(time.Duration(ms) * time.Millisecond)
			i++
		case "STREAMS":
			keys = args[i+1:]
			break options
		default:
			return protocol.Value{}, errSyntax
		}
	}

	if keys == nil {
		return protocol.Value{}, errSyntax
	}
	if len(keys) == 0 || len(keys)%2 != 0 {
		return protocol.Value{}, errorf("Unbalanced 'xread' list of streams: for each stream key an ID or '$' must be specified.")
	}

	half := len(keys) / 2
	reads := make([]storage.StreamRead, half)
	for i := range half {
		cursor, err := parseReadCursor(keys[half+i])
		if err != nil {
			return protocol.Value{}, err
		}
		reads[i] = storage.StreamRead{Key: keys[i], Cursor: cursor}
	}

	if block.Enabled {
		c.server.blocked.Add(1)
		if c.server.metrics != nil {
			c.server.metrics.RecordBlockedClient(1)
		}
		defer func() {
			c.server.blocked.Add(-1)
			if c.server.metrics != nil {
				c.server.metrics.RecordBlockedClient(-1)
			}
		}()
	}

	results, err := c.server.storage.ReadStreams(ctx, reads, block)
	if err != nil {
		return protocol.Value{}, err
	}
	if len(results) == 0 {
		return protocol.NullBulkString(), nil
	}

	values := make([]protocol.Value, len(results))
	for i, r := range results {
		entries := r.Entries
		if limit >= 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		values[i] = protocol.Array(
			protocol.BulkString(r.Key),
			entriesValue(slices.Values(entries), -1),
		)
	}
	return protocol.Array(values...), nil
}

// parseReadCursor parses an XREAD id: "$", "ms" or "ms-seq"
func parseReadCursor(s string) (storage.Cursor, error) {
	if s == "$" {
		return storage.Latest(), nil
	}
	if strings.HasPrefix(s, "(") || s == "-" || s == "+" {
		return storage.Cursor{}, errInvalidStream
	}

	bound, err := stream.ParseRangeStart(s)
	if err != nil {
		return storage.Cursor{}, err
	}
	return storage.After(bound.ID), nil
}

func (c *Client) handleConfig(_ context.Context, cmd *protocol.Command) (protocol.Value, error) {
	sub := strings.ToUpper(cmd.Args[0])
	if sub != "GET" {
		return protocol.Value{}, errorf("unknown subcommand '%s'. Try CONFIG HELP.", cmd.Args[0])
	}
	if len(cmd.Args) < 2 {
		return protocol.Value{}, errWrongArgs("config|get")
	}

	var (
		names = c.server.storage.ConfigNames()
		seen  = make(map[string]bool)
		items []string
	)
	for _, pattern := range cmd.Args[1:] {
		pattern = strings.ToLower(pattern)
		for _, name := range names {
			if seen[name] || !storage.MatchPattern(name, pattern) {
				continue
			}
			value, _ := c.server.storage.Config(name)
			items = append(items, name, value)
			seen[name] = true
		}
	}

	return protocol.BulkStrings(items...), nil
}

func (c *Client) handleInfo(_ context.Context, cmd *protocol.Command) (protocol.Value, error) {
	sections := []string{"replication"}
	if len(cmd.Args) > 0 {
		sections = sections[:0]
		for _, arg := range cmd.Args {
			switch name := strings.ToLower(arg); name {
			case "all", "default", "everything":
				sections = append(sections, "server", "clients", "replication")
			default:
				sections = append(sections, name)
			}
		}
	}

	var parts []string
	for _, section := range sections {
		if text, ok := c.infoSection(section); ok {
			parts = append(parts, text)
		}
	}
	return protocol.BulkString(strings.Join(parts, "\r\n\r\n")), nil
}

func (c *Client) infoSection(name string) (string, bool) {
	s := c.server
	switch name {
	case "server":
		stats := s.Stats()
		return strings.Join([]string{
			"# Server",
			"redis_version:" + s.version,
			"redis_mode:standalone",
			"process_id:" + strconv.Itoa(os.Getpid()),
			"tcp_port:" + portOf(s.Addr()),
			"uptime_in_seconds:" + strconv.FormatInt(int64(stats.Uptime.Seconds()), 10),
		}, "\r\n"), true
	case "clients":
		stats := s.Stats()
		return strings.Join([]string{
			"# Clients",
			"connected_clients:" + strconv.Itoa(stats.ConnectedClients),
			"blocked_clients:" + strconv.FormatInt(stats.BlockedClients, 10),
		}, "\r\n"), true
	case "replication":
		return strings.Join([]string{
			"# Replication",
			"role:" + string(s.role),
			"master_replid:" + s.storage.ReplicationID(),
			"master_repl_offset:0",
		}, "\r\n"), true
	default:
		return "", false
	}
}

func (c *Client) handleReplconf(_ context.Context, cmd *protocol.Command) (protocol.Value, error) {
	c.server.logger.Debug("REPLCONF", "client", c.id, "option", cmd.Args[0], "value", cmd.Args[1])
	return protocol.SimpleString("OK"), nil
}

func (c *Client) handleCommand(_ context.Context, _ *protocol.Command) (protocol.Value, error) {
	return protocol.Array(), nil
}

func (c *Client) handleQuit(_ context.Context, _ *protocol.Command) (protocol.Value, error) {
	return protocol.SimpleString("OK"), nil
}

// entriesValue encodes at most limit entries (all when limit is negative)
// as [[id, [field, value, ...]], ...]
func entriesValue(entries iter.Seq[stream.Entry], limit int) protocol.Value {
	values := []protocol.Value{}
	for e := range entries {
		if limit >= 0 && len(values) >= limit {
			break
		}
		values = append(values, entryValue(e))
	}
	return protocol.Array(values...)
}

func entryValue(e stream.Entry) protocol.Value {
	flat := make([]string, 0, 2*len(e.Fields))
	for _, f := range e.Fields {
		flat = append(flat, f.Name, f.Value)
	}
	return protocol.Array(protocol.BulkString(e.ID.String()), protocol.BulkStrings(flat...))
}

func portOf(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[i+1:]
	}
	return addr
}
