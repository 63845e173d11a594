// Package protocol implements the Redis Serialization Protocol (RESP)
// values exchanged between clients and the server.
//
// The reader is a streaming decoder: it pulls exactly the bytes of one
// value from the underlying stream, blocking only while the stream has
// nothing to offer, and leaves the stream positioned right after the
// value. The writer produces the deterministic encoding of every value.
//
// Basic usage:
//
//	reader := protocol.NewReader(conn)
//	writer := protocol.NewWriter(conn)
//	for {
//		value, err := reader.ReadNext()
//		if err != nil {
//			break
//		}
//		writer.WriteValue(protocol.SimpleString("OK"))
//		writer.Flush()
//	}
//
// Supported value kinds:
//   - Simple Strings
//   - Simple Errors (write only)
//   - Bulk Strings and null Bulk Strings
//   - Arrays and null Arrays
//   - Null
package protocol
