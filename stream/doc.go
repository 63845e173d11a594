// Package stream implements the append-only ordered log stored under a
// stream key.
//
// Entries are identified by an EntryID, a (milliseconds, sequence) pair
// ordered lexicographically. A Stream only ever accepts IDs strictly
// greater than its current top item, so iteration order is insertion
// order.
//
// Consumers waiting for new data register a one-shot Listener. The next
// insert delivers its entry to every registered listener and clears the
// registration list.
package stream
