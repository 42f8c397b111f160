// Package presence records short-lived "last seen" markers for users. The
// websocket layer touches a marker on connect and on activity; the marker
// simply expires when the user goes quiet.
package presence

import (
	"context"
	"time"
)

// DefaultTTL is how long a user counts as online after their last touch.
const DefaultTTL = 2 * time.Minute

// Tracker is the port the transport and handlers talk to.
type Tracker interface {
	// Touch marks the user online, extending the TTL.
	Touch(ctx context.Context, userID int64) error
	// Online reports whether the user's marker is still live.
	Online(ctx context.Context, userID int64) (bool, error)
	// Forget drops the marker immediately (explicit disconnect).
	Forget(ctx context.Context, userID int64) error
}
