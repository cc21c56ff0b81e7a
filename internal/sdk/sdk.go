// Package sdk abstracts the third-party presence service behind a
// narrow connector interface so the relay never depends on the
// service's concrete transport.
package sdk

import "context"

// Activity is the payload shown to other users. The service's own
// application branding supplies the title, so only details and a start
// timestamp are sent.
type Activity struct {
	Details        string
	StartTimestamp int64 // Unix seconds
}

// Connector logs into the local presence service for one application
// identity.
type Connector interface {
	Login(ctx context.Context, clientID string) (Conn, error)
}

// Conn is a live presence connection bound to a single identity.
type Conn interface {
	SetActivity(ctx context.Context, activity Activity) error
	Clear(ctx context.Context) error
	Close() error
}
