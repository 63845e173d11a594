// Package redisserver provides an in-memory server speaking the Redis
// protocol.
//
// The server keeps strings with optional expiry and append-only streams in
// a single shared store. At startup it loads an RDB snapshot when one is
// present and, when configured as a replica, performs the replication
// handshake with its primary.
//
// Basic usage:
//
//	srv, err := redisserver.New(
//		redisserver.WithAddr(":6379"),
//		redisserver.WithDir("/var/lib/redis"),
//		redisserver.WithDBFilename("dump.rdb"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Close()
//
//	if err := srv.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// The server supports:
//
//   - PING, ECHO, GET, SET (EX/PX), TYPE, KEYS
//   - XADD, XRANGE and blocking XREAD on streams
//   - CONFIG GET, INFO and REPLCONF
//   - Prometheus metrics and an HTTP admin endpoint
//   - OpenTelemetry spans per command
package redisserver
