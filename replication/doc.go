// Package replication implements the replica side of Redis replication
// that runs at startup: loading an RDB snapshot into the store and the
// outbound handshake with a primary.
//
// Basic usage:
//
//	stats, err := replication.LoadSnapshot("/data/dump.rdb", store, logger)
//
//	client := replication.NewClient("primary:6379", 6380)
//	result, err := client.Handshake(ctx)
//
// The RDB parser supports:
//   - Length encodings of 6, 14, 32 and 64 bits
//   - Integer encoded and LZF compressed strings
//   - AUX, SELECTDB and RESIZEDB opcodes
//   - Second and millisecond expiry prefixes
//   - CRC64 trailer verification
package replication
