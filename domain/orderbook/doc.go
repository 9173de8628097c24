// Package orderbook implements a single-instrument limit order book with
// price/time priority.
//
// Bids and asks are price ladders keyed by level. Each level is a FIFO of
// orders that live in a per-book arena. Incoming orders rest first and the
// book then matches the best bid against the best ask until it is uncrossed.
//
// Nothing in this package is safe for concurrent use. Each book belongs to
// one worker goroutine.
package orderbook
