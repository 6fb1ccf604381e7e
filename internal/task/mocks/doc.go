// Package mocks provides mock implementations of the task collaborators for testing.
package mocks
