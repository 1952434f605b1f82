// Package pusher ties pub/sub channel subscriptions and event listeners to
// scope lifetimes. Channels are subscribed on first use, shared by every
// scope that references them and unsubscribed as soon as the last listener
// or owning scope goes away. Events delivered by the transport are always
// re-scheduled onto a Host before user code runs.
package pusher

import (
	"errors"

	"github.com/kleeedolinux/pusher.go/pusher/transport"
)

type Handler = transport.Handler

type GlobalHandler = transport.GlobalHandler

const (
	presencePrefix    = "presence-"
	privatePrefix     = "private-"
	clientEventPrefix = "client-"
)

var (
	ErrInvalidChannel     = errors.New("invalid pusher channel object")
	ErrInvalidConnection  = errors.New("invalid pusher connection object")
	ErrInvalidMembers     = errors.New("invalid pusher channel members object")
	ErrChannelKind        = errors.New("presence or private channel required")
	ErrEventNamePrefix    = errors.New("event name requires 'client-' prefix")
	ErrNotPresenceChannel = errors.New("members object only exists for presence channels")
	ErrEmptyChannelName   = errors.New("channel name is empty")
	ErrNilHandler         = errors.New("handler is nil")
	ErrNilHost            = errors.New("host is nil")
	ErrLoopClosed         = errors.New("loop closed")
)
