package replication

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// RDB format constants
const (
	MinChecksumRDBVersion  = 5
	MaxSupportedRDBVersion = 12

	RDBOpcodeSlotInfo  = 0xF4
	RDBOpcodeFunction2 = 0xF5
	RDBOpcodeModuleAux = 0xF7
	RDBOpcodeIdle      = 0xF8
	RDBOpcodeFreq      = 0xF9
	RDBOpcodeAux       = 0xFA
	RDBOpcodeResizeDB  = 0xFB
	RDBOpcodeExpiryMs  = 0xFC
	RDBOpcodeExpiry    = 0xFD
	RDBOpcodeDB        = 0xFE
	RDBOpcodeEOF       = 0xFF

	// Value types
	RDBTypeString         = 0
	RDBTypeList           = 1
	RDBTypeSet            = 2
	RDBTypeZSet           = 3
	RDBTypeHash           = 4
	RDBTypeZSet2          = 5
	RDBTypeHashZipmap     = 9
	RDBTypeListZiplist    = 10
	RDBTypeSetIntset      = 11
	RDBTypeZSetZiplist    = 12
	RDBTypeHashZiplist    = 13
	RDBTypeListQuicklist  = 14
	RDBTypeHashListpack   = 16
	RDBTypeZSetListpack   = 17
	RDBTypeListQuicklist2 = 18
	RDBTypeSetListpack    = 20
)

// Special string encodings (length byte 0b11xxxxxx)
const (
	encInt8  = 0
	encInt16 = 1
	encInt32 = 2
	encLZF   = 3
)

// maxStringLength guards allocations for corrupt length prefixes
const maxStringLength = 512 * 1024 * 1024

// RDBHandler receives the entries decoded from a snapshot
type RDBHandler interface {
	// OnAux is called for each auxiliary field
	OnAux(key, value string) error

	// OnDatabase is called when switching to a new database
	OnDatabase(index uint64) error

	// OnResizeDB is called with the table size hints of the current database
	OnResizeDB(keys, expires uint64) error

	// OnKey is called for each string key
	OnKey(key, value string, expiresAt *time.Time) error

	// OnSkip is called for keys whose value type the store cannot hold
	OnSkip(key string, valueType byte) error

	// OnEnd is called after the EOF opcode and checksum have been verified
	OnEnd() error
}

// RDBParser parses RDB files in streaming mode
type RDBParser struct {
	br      *bufio.Reader
	handler RDBHandler
	crc     uint64
	version int
	logger  Logger
}

// NewRDBParser creates a new RDB parser
func NewRDBParser(r io.Reader, handler RDBHandler) *RDBParser {
	return &RDBParser{
		br:      bufio.NewReader(r),
		handler: handler,
		logger:  nopLogger{},
	}
}

// SetLogger sets the logger for the RDB parser
func (p *RDBParser) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Version returns the RDB version read from the header
func (p *RDBParser) Version() int {
	return p.version
}

// Parse parses the RDB stream up to and including the checksum trailer
func (p *RDBParser) Parse() error {
	if err := p.readHeader(); err != nil {
		return err
	}

	var expiresAt *time.Time
	for {
		opcode, err := p.readByte()
		if err != nil {
			return corrupt("reading opcode", err)
		}

		switch opcode {
		case RDBOpcodeEOF:
			if err := p.verifyChecksum(); err != nil {
				return err
			}
			return p.handler.OnEnd()

		case RDBOpcodeDB:
			db, err := p.readLength()
			if err != nil {
				return corrupt("reading database number", err)
			}
			if err := p.handler.OnDatabase(db); err != nil {
				return err
			}

		case RDBOpcodeResizeDB:
			keys, err := p.readLength()
			if err != nil {
				return corrupt("reading hash table size", err)
			}
			expires, err := p.readLength()
			if err != nil {
				return corrupt("reading expire table size", err)
			}
			if err := p.handler.OnResizeDB(keys, expires); err != nil {
				return err
			}

		case RDBOpcodeAux:
			key, err := p.readString()
			if err != nil {
				return corrupt("reading aux key", err)
			}
			value, err := p.readString()
			if err != nil {
				return corrupt("reading aux value for "+key, err)
			}
			if err := p.handler.OnAux(key, value); err != nil {
				return err
			}

		case RDBOpcodeExpiry:
			var buf [4]byte
			if err := p.readFull(buf[:]); err != nil {
				return corrupt("reading expiry", err)
			}
			t := time.Unix(int64(binary.LittleEndian.Uint32(buf[:])), 0)
			expiresAt = &t

		case RDBOpcodeExpiryMs:
			var buf [8]byte
			if err := p.readFull(buf[:]); err != nil {
				return corrupt("reading millisecond expiry", err)
			}
			t := time.UnixMilli(int64(binary.LittleEndian.Uint64(buf[:])))
			expiresAt = &t

		case RDBOpcodeIdle:
			if _, err := p.readLength(); err != nil {
				return corrupt("reading LRU idle time", err)
			}

		case RDBOpcodeFreq:
			if _, err := p.readByte(); err != nil {
				return corrupt("reading LFU frequency", err)
			}

		case RDBOpcodeSlotInfo:
			for i := 0; i < 3; i++ {
				if _, err := p.readLength(); err != nil {
					return corrupt("reading slot info", err)
				}
			}

		case RDBOpcodeFunction2:
			if _, err := p.readString(); err != nil {
				return corrupt("reading function library", err)
			}

		case RDBOpcodeModuleAux:
			return &UnsupportedTypeError{Type: opcode}

		default:
			if err := p.readKeyValue(opcode, expiresAt); err != nil {
				return err
			}
			expiresAt = nil
		}
	}
}

// readHeader reads the "REDIS" magic and the four digit version
func (p *RDBParser) readHeader() error {
	var header [9]byte
	if err := p.readFull(header[:]); err != nil {
		return fmt.Errorf("reading RDB header: %w", err)
	}
	if string(header[:5]) != "REDIS" {
		return fmt.Errorf("%w: %q", ErrInvalidMagic, header[:5])
	}

	version, err := strconv.Atoi(string(header[5:]))
	if err != nil {
		return fmt.Errorf("%w: invalid version %q", ErrCorruptSnapshot, header[5:])
	}
	if version > MaxSupportedRDBVersion {
		return fmt.Errorf("unsupported RDB version: %d (max supported: %d)", version, MaxSupportedRDBVersion)
	}
	p.version = version
	p.logger.Debug("RDB header", "version", version)
	return nil
}

// verifyChecksum reads the trailer that follows the EOF opcode. A zero
// trailer means the writer had checksums disabled.
func (p *RDBParser) verifyChecksum() error {
	if p.version < MinChecksumRDBVersion {
		return nil
	}

	computed := p.crc
	var trailer [8]byte
	if _, err := io.ReadFull(p.br, trailer[:]); err != nil {
		return corrupt("reading checksum", err)
	}

	expected := binary.LittleEndian.Uint64(trailer[:])
	if expected == 0 {
		p.logger.Debug("RDB checksum disabled")
		return nil
	}
	if expected != computed {
		return &ChecksumError{Expected: expected, Actual: computed}
	}
	return nil
}

// readKeyValue reads a key and a value of the given type
func (p *RDBParser) readKeyValue(valueType byte, expiresAt *time.Time) error {
	key, err := p.readString()
	if err != nil {
		return corrupt("reading key", err)
	}

	if valueType == RDBTypeString {
		value, err := p.readString()
		if err != nil {
			return corrupt("reading value for key "+key, err)
		}
		return p.handler.OnKey(key, value, expiresAt)
	}

	if err := p.skipValue(valueType); err != nil {
		return fmt.Errorf("skipping value for key %s: %w", key, err)
	}
	p.logger.Debug("Skipped RDB value", "key", key, "type", valueType)
	return p.handler.OnSkip(key, valueType)
}

// skipValue consumes a value the store cannot represent
func (p *RDBParser) skipValue(valueType byte) error {
	switch valueType {
	case RDBTypeList, RDBTypeSet, RDBTypeListQuicklist:
		return p.skipStrings(1)

	case RDBTypeHash:
		return p.skipStrings(2)

	case RDBTypeZSet:
		n, err := p.readLength()
		if err != nil {
			return corrupt("reading sorted set length", err)
		}
		for i := uint64(0); i < n; i++ {
			if _, err := p.readString(); err != nil {
				return corrupt("reading sorted set member", err)
			}
			if err := p.skipOldDouble(); err != nil {
				return err
			}
		}
		return nil

	case RDBTypeZSet2:
		n, err := p.readLength()
		if err != nil {
			return corrupt("reading sorted set length", err)
		}
		var score [8]byte
		for i := uint64(0); i < n; i++ {
			if _, err := p.readString(); err != nil {
				return corrupt("reading sorted set member", err)
			}
			if err := p.readFull(score[:]); err != nil {
				return corrupt("reading sorted set score", err)
			}
		}
		return nil

	case RDBTypeListQuicklist2:
		n, err := p.readLength()
		if err != nil {
			return corrupt("reading quicklist length", err)
		}
		for i := uint64(0); i < n; i++ {
			if _, err := p.readLength(); err != nil {
				return corrupt("reading quicklist container", err)
			}
			if _, err := p.readString(); err != nil {
				return corrupt("reading quicklist node", err)
			}
		}
		return nil

	case RDBTypeHashZipmap, RDBTypeListZiplist, RDBTypeSetIntset, RDBTypeZSetZiplist,
		RDBTypeHashZiplist, RDBTypeHashListpack, RDBTypeZSetListpack, RDBTypeSetListpack:
		// Encoded as a single opaque string
		if _, err := p.readString(); err != nil {
			return corrupt("reading encoded value", err)
		}
		return nil

	default:
		return &UnsupportedTypeError{Type: valueType}
	}
}

// skipStrings consumes a length followed by length*perItem strings
func (p *RDBParser) skipStrings(perItem uint64) error {
	n, err := p.readLength()
	if err != nil {
		return corrupt("reading collection length", err)
	}
	for i := uint64(0); i < n*perItem; i++ {
		if _, err := p.readString(); err != nil {
			return corrupt("reading collection element", err)
		}
	}
	return nil
}

// skipOldDouble consumes a score stored as a length-prefixed decimal string
func (p *RDBParser) skipOldDouble() error {
	n, err := p.readByte()
	if err != nil {
		return corrupt("reading score length", err)
	}
	switch n {
	case 253, 254, 255: // NaN, +Inf, -Inf
		return nil
	}
	buf := make([]byte, n)
	if err := p.readFull(buf); err != nil {
		return corrupt("reading score", err)
	}
	return nil
}

// readLengthEncoding reads a length prefix. When special is set the low six
// bits of the first byte select a string encoding instead of a length.
func (p *RDBParser) readLengthEncoding() (length uint64, special bool, err error) {
	b, err := p.readByte()
	if err != nil {
		return 0, false, err
	}

	switch b >> 6 {
	case 0:
		return uint64(b & 0x3F), false, nil

	case 1:
		b2, err := p.readByte()
		if err != nil {
			return 0, false, err
		}
		return uint64(b&0x3F)<<8 | uint64(b2), false, nil

	case 2:
		switch b {
		case 0x80:
			var buf [4]byte
			if err := p.readFull(buf[:]); err != nil {
				return 0, false, err
			}
			return uint64(binary.BigEndian.Uint32(buf[:])), false, nil
		case 0x81:
			var buf [8]byte
			if err := p.readFull(buf[:]); err != nil {
				return 0, false, err
			}
			return binary.BigEndian.Uint64(buf[:]), false, nil
		default:
			return 0, false, fmt.Errorf("%w: invalid length prefix 0x%02x", ErrCorruptSnapshot, b)
		}

	default:
		return uint64(b & 0x3F), true, nil
	}
}

// readLength reads a plain length
func (p *RDBParser) readLength() (uint64, error) {
	length, special, err := p.readLengthEncoding()
	if err != nil {
		return 0, err
	}
	if special {
		return 0, fmt.Errorf("%w: unexpected string encoding %d where a length was expected", ErrCorruptSnapshot, length)
	}
	return length, nil
}

// readString reads a length-prefixed, integer encoded or LZF compressed string
func (p *RDBParser) readString() (string, error) {
	length, special, err := p.readLengthEncoding()
	if err != nil {
		return "", err
	}

	if !special {
		if length > maxStringLength {
			return "", fmt.Errorf("%w: string length %d too large", ErrCorruptSnapshot, length)
		}
		buf := make([]byte, length)
		if err := p.readFull(buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}

	switch length {
	case encInt8:
		b, err := p.readByte()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int8(b)), 10), nil

	case encInt16:
		var buf [2]byte
		if err := p.readFull(buf[:]); err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int16(binary.LittleEndian.Uint16(buf[:]))), 10), nil

	case encInt32:
		var buf [4]byte
		if err := p.readFull(buf[:]); err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(buf[:]))), 10), nil

	case encLZF:
		return p.readCompressedString()

	default:
		return "", fmt.Errorf("%w: invalid special string encoding %d", ErrCorruptSnapshot, length)
	}
}

// readCompressedString reads an LZF compressed string
func (p *RDBParser) readCompressedString() (string, error) {
	compressedLen, err := p.readLength()
	if err != nil {
		return "", err
	}
	size, err := p.readLength()
	if err != nil {
		return "", err
	}
	if compressedLen > maxStringLength || size > maxStringLength {
		return "", fmt.Errorf("%w: compressed string too large", ErrCorruptSnapshot)
	}

	compressed := make([]byte, compressedLen)
	if err := p.readFull(compressed); err != nil {
		return "", err
	}
	data, err := decompressLZF(compressed, int(size))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// readByte reads one byte and folds it into the running checksum
func (p *RDBParser) readByte() (byte, error) {
	b, err := p.br.ReadByte()
	if err != nil {
		return 0, err
	}
	p.crc = jonesTable[byte(p.crc)^b] ^ (p.crc >> 8)
	return b, nil
}

// readFull fills buf and folds it into the running checksum
func (p *RDBParser) readFull(buf []byte) error {
	if _, err := io.ReadFull(p.br, buf); err != nil {
		return err
	}
	p.crc = crc64Jones(p.crc, buf)
	return nil
}

// corrupt labels a read failure; a premature end of input is reported as
// a corrupt snapshot.
func corrupt(step string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w: %w", step, ErrCorruptSnapshot, io.ErrUnexpectedEOF)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// ParseRDB is a convenience function to parse an RDB stream
func ParseRDB(r io.Reader, handler RDBHandler) error {
	return NewRDBParser(r, handler).Parse()
}
