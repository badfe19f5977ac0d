// Package capability defines the user-facing surface the pairing
// controller drives.  The controller never renders anything itself; it
// calls a UI, which keeps the state machine testable without a display
// and lets the terminal client, or any other front end, plug in.
package capability

// UI receives the pairing controller's presentation updates.  Calls
// arrive from the controller's goroutine, one at a time.
type UI interface {
	// ShowQR presents a scannable code.  image is a data URL, raw
	// base64, or an http(s) URL, exactly as the daemon sent it.  A
	// later call supersedes an earlier one.
	ShowQR(image string)

	// ShowAuthorized reports a successful pairing.
	ShowAuthorized(summary string)

	// ShowError reports a pairing rejected by the daemon.
	ShowError(reason string)

	// ResetToIdle returns the UI to its "not pairing" state.  It may be
	// called more than once.
	ResetToIdle()
}
