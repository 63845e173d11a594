// Package storage provides the keyed store shared by every client
// connection.
//
// A single mutex serializes all operations. Values carry an optional
// absolute expiry that is evaluated lazily: an expired entry stays in the
// map but every accessor treats it as absent.
//
// Basic usage:
//
//	store := storage.NewMemory()
//	store.Set("key", storage.StringValue{Data: "value"}, nil)
//	value, ok := store.Get("key")
//
// Stream keys are created lazily by InsertStreamEntry and by listener
// registration; ReadStreams implements blocking reads across several
// streams without holding the store lock while waiting.
package storage
