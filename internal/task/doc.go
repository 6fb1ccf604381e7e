// Package task moves account-disable requests from an external message queue
// into a bounded in-process queue and executes them one by one.
// It provides the polling producer, the dispatch loop and the runner that
// owns their shared lifecycle and shuts them down cooperatively.
package task
