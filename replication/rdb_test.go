package replication

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rdbBuilder assembles RDB files for tests
type rdbBuilder struct {
	buf bytes.Buffer
}

func newRDB(version string) *rdbBuilder {
	b := &rdbBuilder{}
	b.buf.WriteString("REDIS" + version)
	return b
}

func (b *rdbBuilder) raw(p ...byte) *rdbBuilder {
	b.buf.Write(p)
	return b
}

func (b *rdbBuilder) str(s string) *rdbBuilder {
	b.length(uint64(len(s)))
	b.buf.WriteString(s)
	return b
}

func (b *rdbBuilder) length(n uint64) *rdbBuilder {
	switch {
	case n < 1<<6:
		b.buf.WriteByte(byte(n))
	case n < 1<<14:
		b.buf.WriteByte(byte(n>>8) | 0x40)
		b.buf.WriteByte(byte(n))
	case n <= 0xFFFFFFFF:
		b.buf.WriteByte(0x80)
		binary.Write(&b.buf, binary.BigEndian, uint32(n))
	default:
		b.buf.WriteByte(0x81)
		binary.Write(&b.buf, binary.BigEndian, n)
	}
	return b
}

func (b *rdbBuilder) aux(key, value string) *rdbBuilder {
	return b.raw(RDBOpcodeAux).str(key).str(value)
}

func (b *rdbBuilder) key(key, value string) *rdbBuilder {
	return b.raw(RDBTypeString).str(key).str(value)
}

func (b *rdbBuilder) expiryMs(t time.Time) *rdbBuilder {
	b.buf.WriteByte(RDBOpcodeExpiryMs)
	binary.Write(&b.buf, binary.LittleEndian, uint64(t.UnixMilli()))
	return b
}

func (b *rdbBuilder) expirySeconds(t time.Time) *rdbBuilder {
	b.buf.WriteByte(RDBOpcodeExpiry)
	binary.Write(&b.buf, binary.LittleEndian, uint32(t.Unix()))
	return b
}

// end appends the EOF opcode and a valid checksum
func (b *rdbBuilder) end() []byte {
	b.buf.WriteByte(RDBOpcodeEOF)
	crc := crc64Jones(0, b.buf.Bytes())
	binary.Write(&b.buf, binary.LittleEndian, crc)
	return b.buf.Bytes()
}

// endWithChecksum appends the EOF opcode and the given trailer
func (b *rdbBuilder) endWithChecksum(crc uint64) []byte {
	b.buf.WriteByte(RDBOpcodeEOF)
	binary.Write(&b.buf, binary.LittleEndian, crc)
	return b.buf.Bytes()
}

type keyRecord struct {
	value     string
	expiresAt *time.Time
}

// recordingHandler collects everything the parser reports
type recordingHandler struct {
	aux       map[string]string
	keys      map[string]keyRecord
	skipped   map[string]byte
	databases []uint64
	resizes   [][2]uint64
	ended     bool
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		aux:     map[string]string{},
		keys:    map[string]keyRecord{},
		skipped: map[string]byte{},
	}
}

func (h *recordingHandler) OnAux(key, value string) error {
	h.aux[key] = value
	return nil
}

func (h *recordingHandler) OnDatabase(index uint64) error {
	h.databases = append(h.databases, index)
	return nil
}

func (h *recordingHandler) OnResizeDB(keys, expires uint64) error {
	h.resizes = append(h.resizes, [2]uint64{keys, expires})
	return nil
}

func (h *recordingHandler) OnKey(key, value string, expiresAt *time.Time) error {
	h.keys[key] = keyRecord{value: value, expiresAt: expiresAt}
	return nil
}

func (h *recordingHandler) OnSkip(key string, valueType byte) error {
	h.skipped[key] = valueType
	return nil
}

func (h *recordingHandler) OnEnd() error {
	h.ended = true
	return nil
}

func TestParseRDB(t *testing.T) {
	expiry := time.UnixMilli(1956528000123)
	data := newRDB("0011").
		aux("redis-ver", "7.2.0").
		raw(RDBOpcodeDB).length(0).
		raw(RDBOpcodeResizeDB).length(3).length(1).
		key("foo", "bar").
		expiryMs(expiry).key("session", "abc").
		key("empty", "").
		end()

	h := newRecordingHandler()
	parser := NewRDBParser(bytes.NewReader(data), h)
	require.NoError(t, parser.Parse())

	assert.Equal(t, 11, parser.Version())
	assert.True(t, h.ended)
	assert.Equal(t, map[string]string{"redis-ver": "7.2.0"}, h.aux)
	assert.Equal(t, []uint64{0}, h.databases)
	assert.Equal(t, [][2]uint64{{3, 1}}, h.resizes)

	require.Contains(t, h.keys, "foo")
	assert.Equal(t, "bar", h.keys["foo"].value)
	assert.Nil(t, h.keys["foo"].expiresAt)

	require.Contains(t, h.keys, "session")
	require.NotNil(t, h.keys["session"].expiresAt)
	assert.True(t, expiry.Equal(*h.keys["session"].expiresAt))
	assert.Nil(t, h.keys["empty"].expiresAt, "expiry applies to a single key")
}

func TestParseRDBSecondExpiry(t *testing.T) {
	expiry := time.Unix(1956528000, 0)
	data := newRDB("0009").expirySeconds(expiry).key("k", "v").end()

	h := newRecordingHandler()
	require.NoError(t, ParseRDB(bytes.NewReader(data), h))
	require.NotNil(t, h.keys["k"].expiresAt)
	assert.True(t, expiry.Equal(*h.keys["k"].expiresAt))
}

func TestParseRDBStringEncodings(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 300)

	data := newRDB("0011").
		raw(RDBTypeString).str("int8").raw(0xC0, 0xF6).                   // -10
		raw(RDBTypeString).str("int16").raw(0xC1, 0x39, 0x30).            // 12345
		raw(RDBTypeString).str("int32").raw(0xC2, 0xFF, 0xFF, 0xFF, 0xFF). // -1
		raw(RDBTypeString).str("lzf").raw(0xC3).length(5).length(6).raw(0x01, 'a', 'b', 0x40, 0x01).
		raw(RDBTypeString).str("long").str(string(long)).
		raw(RDBTypeString).str("wide").raw(0x80, 0, 0, 0, 2).raw('h', 'i').
		raw(RDBTypeString).str("wider").raw(0x81, 0, 0, 0, 0, 0, 0, 0, 3).raw('y', 'e', 's').
		end()

	h := newRecordingHandler()
	require.NoError(t, ParseRDB(bytes.NewReader(data), h))

	assert.Equal(t, "-10", h.keys["int8"].value)
	assert.Equal(t, "12345", h.keys["int16"].value)
	assert.Equal(t, "-1", h.keys["int32"].value)
	assert.Equal(t, "ababab", h.keys["lzf"].value)
	assert.Equal(t, string(long), h.keys["long"].value)
	assert.Equal(t, "hi", h.keys["wide"].value)
	assert.Equal(t, "yes", h.keys["wider"].value)
}

func TestParseRDBSkipsUnsupportedCollections(t *testing.T) {
	data := newRDB("0011").
		raw(RDBTypeList).str("list").length(2).str("a").str("b").
		raw(RDBTypeHash).str("hash").length(1).str("f").str("v").
		raw(RDBTypeZSet2).str("zset").length(1).str("m").raw(0, 0, 0, 0, 0, 0, 0xF0, 0x3F).
		raw(RDBTypeSetListpack).str("set").str("opaque").
		raw(RDBOpcodeIdle).length(100).
		raw(RDBOpcodeFreq, 5).
		key("after", "ok").
		end()

	h := newRecordingHandler()
	require.NoError(t, ParseRDB(bytes.NewReader(data), h))

	assert.Equal(t, map[string]byte{
		"list": RDBTypeList,
		"hash": RDBTypeHash,
		"zset": RDBTypeZSet2,
		"set":  RDBTypeSetListpack,
	}, h.skipped)
	assert.Equal(t, "ok", h.keys["after"].value)
}

func TestParseRDBUnsupportedType(t *testing.T) {
	data := newRDB("0011").raw(15).str("stream").end()

	err := ParseRDB(bytes.NewReader(data), newRecordingHandler())
	var typeErr *UnsupportedTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, byte(15), typeErr.Type)
}

func TestParseRDBChecksum(t *testing.T) {
	t.Run("mismatch", func(t *testing.T) {
		data := newRDB("0011").key("k", "v").endWithChecksum(0xDEADBEEF)
		err := ParseRDB(bytes.NewReader(data), newRecordingHandler())
		var sumErr *ChecksumError
		require.ErrorAs(t, err, &sumErr)
		assert.Equal(t, uint64(0xDEADBEEF), sumErr.Expected)
	})

	t.Run("disabled", func(t *testing.T) {
		data := newRDB("0011").key("k", "v").endWithChecksum(0)
		h := newRecordingHandler()
		require.NoError(t, ParseRDB(bytes.NewReader(data), h))
		assert.True(t, h.ended)
	})

	t.Run("old version has no trailer", func(t *testing.T) {
		data := newRDB("0004").key("k", "v").raw(RDBOpcodeEOF).buf.Bytes()
		h := newRecordingHandler()
		require.NoError(t, ParseRDB(bytes.NewReader(data), h))
		assert.Equal(t, "v", h.keys["k"].value)
	})
}

func TestParseRDBErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", []byte("RADIS0011\xff"), ErrInvalidMagic},
		{"bad version", []byte("REDISabcd\xff"), ErrCorruptSnapshot},
		{"truncated header", []byte("RED"), io.ErrUnexpectedEOF},
		{"missing EOF", newRDB("0011").key("k", "v").buf.Bytes(), ErrCorruptSnapshot},
		{"truncated value", newRDB("0011").raw(RDBTypeString).str("k").raw(0x05, 'a').buf.Bytes(), ErrCorruptSnapshot},
		{"bad length prefix", newRDB("0011").raw(RDBTypeString).raw(0x82).buf.Bytes(), ErrCorruptSnapshot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseRDB(bytes.NewReader(tt.data), newRecordingHandler())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestParseRDBUnsupportedVersion(t *testing.T) {
	err := ParseRDB(bytes.NewReader([]byte("REDIS0099\xff")), newRecordingHandler())
	assert.ErrorContains(t, err, "unsupported RDB version")
}
