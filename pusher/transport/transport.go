// Package transport defines the pub/sub client surface the pusher package
// consumes, along with two implementations: an in-process Broker and a
// websocket frame client.
package transport

import (
	"encoding/json"
	"errors"
	"strings"
)

type Handler func(data interface{})

type GlobalHandler func(event string, data interface{})

// Callback is the value registered on a channel or connection. Unbind
// matches on the pointer, so two callbacks wrapping the same function are
// still distinct registrations.
type Callback struct {
	fn Handler
}

func NewCallback(fn Handler) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Call(data interface{}) {
	if c == nil || c.fn == nil {
		return
	}
	c.fn(data)
}

type Member struct {
	ID   string      `json:"id"`
	Info interface{} `json:"info,omitempty"`
}

// MembersSnapshot is the payload of EventSubscriptionSucceeded on presence
// channels.
type MembersSnapshot struct {
	Me      *Member
	Count   int
	Members map[string]interface{}
}

type Client interface {
	Subscribe(name string) Channel
	Unsubscribe(name string)
	Connection() Connection
	Close() error
}

type Channel interface {
	Name() string
	Bind(event string, cb *Callback)
	Unbind(event string, cb *Callback)
	BindAll(handler GlobalHandler)
	Trigger(event string, data interface{}) error
	// Members returns nil unless the channel is a presence channel.
	Members() Members
}

type Members interface {
	// Me returns nil until the subscription has been acknowledged.
	Me() *Member
	Count() int
	Get(id string) *Member
	Each(fn func(Member))
}

type Connection interface {
	Bind(event string, cb *Callback)
	Unbind(event string, cb *Callback)
	BindAll(handler GlobalHandler)
	State() string
}

const (
	EventSubscriptionSucceeded = "pusher:subscription_succeeded"
	EventSubscriptionError     = "pusher:subscription_error"
	EventMemberAdded           = "pusher:member_added"
	EventMemberRemoved         = "pusher:member_removed"

	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"

	internalSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	internalMemberAdded           = "pusher_internal:member_added"
	internalMemberRemoved         = "pusher_internal:member_removed"
)

// Connection states and the connection-level events emitted on change.
const (
	StateInitialized  = "initialized"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateFailed       = "failed"

	ConnEventStateChange = "state_change"
	ConnEventError       = "error"
)

type StateChange struct {
	Previous string
	Current  string
}

var (
	ErrNotConnected  = errors.New("not connected")
	ErrNotSubscribed = errors.New("channel not subscribed")
	ErrRateLimited   = errors.New("client event rate limit exceeded")
	ErrInvalidFrame  = errors.New("invalid frame format")
	ErrClosed        = errors.New("client closed")
	ErrDisconnected  = errors.New("connection lost, client does not reconnect")
)

// Frame is the JSON envelope exchanged with the server.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func IsPresence(name string) bool {
	return strings.HasPrefix(name, "presence-")
}

func IsPrivate(name string) bool {
	return strings.HasPrefix(name, "private-")
}
