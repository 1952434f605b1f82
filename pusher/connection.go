package pusher

import (
	"github.com/kleeedolinux/pusher.go/pusher/transport"
)

// Connection wraps the transport's connection events. Transport errors
// arrive unchanged on the transport.ConnEventError event.
type Connection struct {
	base transport.Connection
	host Host
}

func NewConnection(base transport.Connection, host Host) (*Connection, error) {
	if isNil(base) {
		return nil, ErrInvalidConnection
	}
	if isNil(host) {
		return nil, ErrNilHost
	}

	return &Connection{
		base: base,
		host: host,
	}, nil
}

func (c *Connection) Bind(event string, handler Handler, opts ...BindOption) *transport.Callback {
	if handler == nil {
		return nil
	}

	cb := deferredCallback(c.host, handler, opts)
	c.base.Bind(event, cb)
	return cb
}

func (c *Connection) Unbind(event string, cb *transport.Callback) {
	c.base.Unbind(event, cb)
}

func (c *Connection) BindAll(handler GlobalHandler, opts ...BindOption) {
	if handler == nil {
		return
	}

	c.base.BindAll(deferredGlobal(c.host, handler, opts))
}

func (c *Connection) State() string {
	return c.base.State()
}
