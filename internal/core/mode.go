// Package core is the orchestration layer.  It assembles the transport,
// the pairing controller and the UI into a runnable mode and provides a
// builder that derives that mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session  →  pairing  →  core  →  cmd (CLI)
//
// Build is the single place that decides how the websocket is dialled
// (directly or through an SSH gateway), which UI is used and how
// failed attempts are retried.
package core

import "context"

// Mode is a complete run of wapair from first dial to final teardown.
type Mode interface {
	Run(ctx context.Context) error
}
