// Package server provides the Redis protocol server.
//
// Each accepted connection is served by its own goroutine that decodes
// one command array at a time, dispatches it through the command table
// and writes back exactly one reply. Command-level failures become a
// single error reply and the connection stays usable; I/O and protocol
// decode failures close the connection.
//
// The server is compatible with Redis clients like github.com/redis/go-redis
// and supports:
//   - PING, ECHO, QUIT, COMMAND
//   - GET, SET (EX/PX), TYPE, KEYS
//   - XADD, XRANGE, XREAD (COUNT/BLOCK)
//   - CONFIG GET, INFO, REPLCONF
package server
