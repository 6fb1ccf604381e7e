// Package api serves the agent's HTTP health endpoints.
//
// GET /healthz reports the task runner state and in-process queue depth and
// returns 503 unless the runner is running. GET /livez only reports that the
// process is serving requests.
package api
