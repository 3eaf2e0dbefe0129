// Package presence derives a categorical online status from a raw
// last-activity timestamp. Status is never stored; callers recompute it on
// every read.
package presence

import "time"

type Status string

const (
	Online  Status = "online"
	Away    Status = "away"
	Offline Status = "offline"
)

const (
	onlineWithin = 60 * time.Second
	awayWithin   = 300 * time.Second
)

// Derive maps a last-activity timestamp to a status relative to now.
// A zero lastActive means the user was never seen.
func Derive(lastActive, now time.Time) Status {
	if lastActive.IsZero() {
		return Offline
	}
	idle := now.Sub(lastActive)
	switch {
	case idle < onlineWithin:
		return Online
	case idle < awayWithin:
		return Away
	default:
		return Offline
	}
}
