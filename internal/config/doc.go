// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides
// type-safe access to the agent, queue and directory settings while keeping
// configuration details separate from the task pipeline.
package config
