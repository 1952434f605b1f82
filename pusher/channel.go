package pusher

import (
	"fmt"
	"strings"

	"github.com/kleeedolinux/pusher.go/pusher/transport"
)

// Channel wraps a transport channel so that every handler bound through it
// runs on the host.
type Channel struct {
	base    transport.Channel
	host    Host
	name    string
	members *Members
}

func NewChannel(base transport.Channel, host Host) (*Channel, error) {
	if isNil(base) || base.Name() == "" {
		return nil, ErrInvalidChannel
	}
	if isNil(host) {
		return nil, ErrNilHost
	}

	c := &Channel{
		base: base,
		host: host,
		name: base.Name(),
	}

	// Rosters follow the transport's notion of a presence channel, which is
	// stricter than the Trigger check below.
	if transport.IsPresence(c.name) {
		members, err := NewMembers(base.Members(), base, host)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", c.name, err)
		}
		c.members = members
	}

	return c, nil
}

func (c *Channel) Name() string {
	return c.name
}

// Bind registers handler for event and returns the callback actually bound.
// Keep it: Unbind needs that value, not handler.
func (c *Channel) Bind(event string, handler Handler, opts ...BindOption) *transport.Callback {
	if handler == nil {
		return nil
	}

	cb := deferredCallback(c.host, handler, opts)
	c.base.Bind(event, cb)
	return cb
}

func (c *Channel) Unbind(event string, cb *transport.Callback) {
	c.base.Unbind(event, cb)
}

func (c *Channel) BindAll(handler GlobalHandler, opts ...BindOption) {
	if handler == nil {
		return
	}

	c.base.BindAll(deferredGlobal(c.host, handler, opts))
}

// Trigger sends a client event. Only private and presence channels accept
// them, and the event name must carry the client- prefix.
func (c *Channel) Trigger(event string, data interface{}) error {
	if !strings.Contains(c.name, presencePrefix) && !strings.Contains(c.name, privatePrefix) {
		return fmt.Errorf("%w: %s", ErrChannelKind, c.name)
	}
	if !strings.HasPrefix(event, clientEventPrefix) {
		return fmt.Errorf("%w: %s", ErrEventNamePrefix, event)
	}

	return c.base.Trigger(event, data)
}

func (c *Channel) Members() (*Members, error) {
	if c.members == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotPresenceChannel, c.name)
	}
	return c.members, nil
}
