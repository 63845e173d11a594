package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

func TestReaderReadNext(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected protocol.Value
	}{
		{"simple string", "+OK\r\n", protocol.SimpleString("OK")},
		{"empty simple string", "+\r\n", protocol.SimpleString("")},
		{"bulk string", "$5\r\nhello\r\n", protocol.BulkString("hello")},
		{"empty bulk string", "$0\r\n\r\n", protocol.BulkString("")},
		{"bulk string with CRLF inside", "$4\r\na\r\nb\r\n", protocol.BulkString("a\r\nb")},
		{"multibyte bulk string", "$4\r\nçé\r\n", protocol.BulkString("çé")},
		{"null bulk string", "$-1\r\n", protocol.NullBulkString()},
		{"null bulk string any negative", "$-7\r\n", protocol.NullBulkString()},
		{"null array", "*-1\r\n", protocol.NullArray()},
		{"empty array", "*0\r\n", protocol.Array()},
		{"null", "_\r\n", protocol.Null()},
		{
			"command array",
			"*2\r\n$4\r\nECHO\r\n$3\r\nhey\r\n",
			protocol.BulkStrings("ECHO", "hey"),
		},
		{
			"nested array",
			"*2\r\n*1\r\n+a\r\n$-1\r\n",
			protocol.Array(protocol.Array(protocol.SimpleString("a")), protocol.NullBulkString()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := protocol.NewReader(strings.NewReader(tt.input))
			got, err := reader.ReadNext()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)

			_, err = reader.ReadNext()
			assert.ErrorIs(t, err, io.EOF, "reader must consume exactly one value")
		})
	}
}

func TestReaderLeavesStreamAfterValue(t *testing.T) {
	reader := protocol.NewReader(strings.NewReader("+PING\r\n*1\r\n$4\r\nPING\r\n+tail"))

	first, err := reader.ReadNext()
	require.NoError(t, err)
	assert.Equal(t, protocol.SimpleString("PING"), first)

	second, err := reader.ReadNext()
	require.NoError(t, err)
	assert.Equal(t, protocol.BulkStrings("PING"), second)

	_, err = reader.ReadNext()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReaderErrors(t *testing.T) {
	t.Run("bad terminator", func(t *testing.T) {
		_, err := protocol.NewReader(strings.NewReader("+OK\rX")).ReadNext()
		var termErr *protocol.TerminatorError
		require.ErrorAs(t, err, &termErr)
		assert.Equal(t, byte('\r'), termErr.First)
		assert.Equal(t, byte('X'), termErr.Second)
		assert.True(t, protocol.IsDecodeError(err))
	})

	t.Run("bulk string without terminator", func(t *testing.T) {
		_, err := protocol.NewReader(strings.NewReader("$3\r\nabcde")).ReadNext()
		var termErr *protocol.TerminatorError
		require.ErrorAs(t, err, &termErr)
		assert.Equal(t, byte('d'), termErr.First)
		assert.Equal(t, byte('e'), termErr.Second)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := protocol.NewReader(strings.NewReader(":1\r\n")).ReadNext()
		var unknownErr *protocol.UnknownTypeError
		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, byte(':'), unknownErr.Byte)
		assert.Contains(t, err.Error(), "':'")
	})

	t.Run("unknown type inside array", func(t *testing.T) {
		_, err := protocol.NewReader(strings.NewReader("*1\r\n!x\r\n")).ReadNext()
		var unknownErr *protocol.UnknownTypeError
		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, byte('!'), unknownErr.Byte)
	})

	t.Run("invalid utf8", func(t *testing.T) {
		_, err := protocol.NewReader(strings.NewReader("$2\r\n\xff\xfe\r\n")).ReadNext()
		assert.ErrorIs(t, err, protocol.ErrInvalidUTF8)
		assert.True(t, protocol.IsDecodeError(err))
	})

	t.Run("invalid length", func(t *testing.T) {
		_, err := protocol.NewReader(strings.NewReader("$abc\r\n")).ReadNext()
		var lengthErr *protocol.LengthError
		require.ErrorAs(t, err, &lengthErr)
		assert.Equal(t, "abc", lengthErr.Line)
	})

	t.Run("truncated value", func(t *testing.T) {
		_, err := protocol.NewReader(strings.NewReader("$10\r\nhel")).ReadNext()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.False(t, protocol.IsDecodeError(err))
	})

	t.Run("empty stream", func(t *testing.T) {
		_, err := protocol.NewReader(strings.NewReader("")).ReadNext()
		assert.ErrorIs(t, err, io.EOF)
	})
}

// chunkedReader returns at most one byte per Read call.
type chunkedReader struct {
	data []byte
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = c.data[0]
	c.data = c.data[1:]
	return 1, nil
}

func TestReaderPartialReads(t *testing.T) {
	input := "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n"
	reader := protocol.NewReader(&chunkedReader{data: []byte(input)})

	got, err := reader.ReadNext()
	require.NoError(t, err)
	assert.Equal(t, protocol.BulkStrings("SET", "key", "value"), got)
}

func TestReaderLongLine(t *testing.T) {
	long := strings.Repeat("x", 10000)
	got, err := protocol.NewReader(strings.NewReader("+" + long + "\r\n")).ReadNext()
	require.NoError(t, err)
	assert.Equal(t, long, got.Str)
}

func TestWriterWriteValue(t *testing.T) {
	tests := []struct {
		name     string
		value    protocol.Value
		expected string
	}{
		{"simple string", protocol.SimpleString("OK"), "+OK\r\n"},
		{"error", protocol.Error("ERR", "boom"), "-ERR boom\r\n"},
		{"error with newline", protocol.Error("ERR", "a\r\nb"), "-ERR a  b\r\n"},
		{"bulk string", protocol.BulkString("hello"), "$5\r\nhello\r\n"},
		{"multibyte bulk string", protocol.BulkString("ç"), "$2\r\nç\r\n"},
		{"null bulk string", protocol.NullBulkString(), "$-1\r\n"},
		{"empty array", protocol.Array(), "*0\r\n"},
		{"null array", protocol.NullArray(), "*-1\r\n"},
		{"null", protocol.Null(), "_\r\n"},
		{
			"array",
			protocol.Array(protocol.SimpleString("a"), protocol.BulkString("b")),
			"*2\r\n+a\r\n$1\r\nb\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			writer := protocol.NewWriter(&buf)
			require.NoError(t, writer.WriteValue(tt.value))
			require.NoError(t, writer.Flush())
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestWriterUnsupportedType(t *testing.T) {
	writer := protocol.NewWriter(io.Discard)
	err := writer.WriteValue(protocol.Value{Type: ':'})
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	values := []protocol.Value{
		protocol.SimpleString("PONG"),
		protocol.SimpleString("héllo wörld"),
		protocol.BulkString("line1\r\nline2"),
		protocol.BulkString("日本語 🚀"),
		protocol.NullBulkString(),
		protocol.NullArray(),
		protocol.Null(),
		protocol.Array(),
		protocol.Array(
			protocol.BulkString("1-1"),
			protocol.BulkStrings("temperature", "36"),
		),
		protocol.Array(protocol.Null(), protocol.NullBulkString(), protocol.NullArray()),
		protocol.Array(protocol.Array(protocol.Array(protocol.Array(protocol.BulkString("deep"))), protocol.Array())),
	}

	assertRoundTrip(t, values)
}

func TestRoundTripGenerated(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	values := make([]protocol.Value, 200)
	for i := range values {
		values[i] = randomValue(rng, 4)
	}

	assertRoundTrip(t, values)
}

func assertRoundTrip(t *testing.T, values []protocol.Value) {
	t.Helper()

	var buf bytes.Buffer
	writer := protocol.NewWriter(&buf)
	for _, v := range values {
		require.NoError(t, writer.WriteValue(v))
	}
	require.NoError(t, writer.Flush())

	reader := protocol.NewReader(&buf)
	for _, want := range values {
		got, err := reader.ReadNext()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Zero(t, reader.Buffered())
}

var sampleTexts = []string{"", "OK", "a b c", "çé", "日本語", "🚀 stream", "1526919030474-0"}

// randomValue builds a value nested at most depth arrays deep. Simple
// strings never contain CR or LF.
func randomValue(rng *rand.Rand, depth int) protocol.Value {
	kinds := 6
	if depth == 0 {
		kinds = 5
	}

	text := sampleTexts[rng.IntN(len(sampleTexts))]
	switch rng.IntN(kinds) {
	case 0:
		return protocol.SimpleString(text)
	case 1:
		if rng.IntN(2) == 0 {
			text += "\r\n" + text
		}
		return protocol.BulkString(text)
	case 2:
		return protocol.NullBulkString()
	case 3:
		return protocol.NullArray()
	case 4:
		return protocol.Null()
	default:
		items := make([]protocol.Value, rng.IntN(4))
		for i := range items {
			items[i] = randomValue(rng, depth-1)
		}
		return protocol.Array(items...)
	}
}

func TestWriterGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name  string
		value protocol.Value
	}{
		{
			"stream_range_reply",
			protocol.Array(
				protocol.Array(protocol.BulkString("1-0"), protocol.BulkStrings("a", "1")),
				protocol.Array(protocol.BulkString("1-1"), protocol.BulkStrings("b", "2", "c", "3")),
			),
		},
		{
			"stream_read_reply",
			protocol.Array(
				protocol.Array(
					protocol.BulkString("sensor"),
					protocol.Array(
						protocol.Array(protocol.BulkString("5-0"), protocol.BulkStrings("t", "20")),
					),
				),
			),
		},
		{"handshake_command", protocol.BulkStrings("REPLCONF", "listening-port", "6380")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			writer := protocol.NewWriter(&buf)
			require.NoError(t, writer.WriteValue(tt.value))
			require.NoError(t, writer.Flush())
			g.Assert(t, tt.name, buf.Bytes())
		})
	}
}

func TestWriteCommand(t *testing.T) {
	var buf bytes.Buffer
	writer := protocol.NewWriter(&buf)
	require.NoError(t, writer.WriteCommand("PSYNC", "?", "-1"))
	require.NoError(t, writer.Flush())
	assert.Equal(t, "*3\r\n$5\r\nPSYNC\r\n$1\r\n?\r\n$2\r\n-1\r\n", buf.String())
}

func TestParseCommand(t *testing.T) {
	cmd, err := protocol.ParseCommand(protocol.Array(
		protocol.BulkString("xadd"),
		protocol.SimpleString("s"),
		protocol.BulkString("*"),
	))
	require.NoError(t, err)
	assert.Equal(t, "XADD", cmd.Name)
	assert.Equal(t, []string{"s", "*"}, cmd.Args)
	assert.Equal(t, "XADD s *", cmd.String())

	invalid := []protocol.Value{
		protocol.SimpleString("PING"),
		protocol.Array(),
		protocol.NullArray(),
		protocol.Array(protocol.BulkString("GET"), protocol.NullBulkString()),
		protocol.Array(protocol.Array()),
	}
	for _, v := range invalid {
		_, err := protocol.ParseCommand(v)
		assert.True(t, errors.Is(err, protocol.ErrInvalidCommand), "value %s", v)
	}
}
