// Package memory provides the low-level concurrency primitives shared by
// the routing layer and the workers: a padded lock-free single-producer /
// single-consumer ring buffer and the wait strategies used by poll loops
// that retry against it.
//
// The package has no knowledge of orders or books; the element type of a
// queue is chosen by the caller.
package memory
