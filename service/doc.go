// Package service routes order commands to the worker that owns the
// instrument and runs those workers.
//
// One Producer goroutine feeds every worker through its own SPSC command
// ring. Each Worker is the only writer of its books and reports outcomes
// and executions on an SPSC event ring read by a single consumer.
package service
