// Command agent runs the securotron account-disable agent.
//
// It polls a message queue for usernames and disables the matching Active
// Directory accounts. Subcommands:
//
//	agent run              run the agent until SIGINT or SIGTERM
//	agent migrate          apply database migrations for the postgres backend
//	agent send <username>  put a disable request on the configured queue
package main

import (
	"errors"
	"fmt"
	"os"
)

// loggedError marks an error that has already been written to the log
type loggedError struct {
	err error
}

func (e *loggedError) Error() string { return e.err.Error() }
func (e *loggedError) Unwrap() error { return e.err }

func logged(err error) error {
	if err == nil {
		return nil
	}
	return &loggedError{err: err}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var l *loggedError
		if !errors.As(err, &l) {
			fmt.Fprintln(os.Stderr, "agent:", err)
		}
		os.Exit(1)
	}
}
