package transport

import (
	"sync"

	"github.com/kleeedolinux/pusher.go/debug"
)

// Broker is an in-process Client. Publish, Join and Leave deliver on the
// caller's goroutine, the way a network client delivers from its read loop.
type Broker struct {
	mu           sync.Mutex
	channels     map[string]*brokerChannel
	rosters      map[string]*roster
	subscribes   map[string]int
	unsubscribes map[string]int
	triggered    map[string][]Frame
	self         Member
	connection   *brokerConnection
	closed       bool
}

type BrokerOption func(*Broker)

// WithSelf sets the member the broker reports as "me" on presence channels.
func WithSelf(member Member) BrokerOption {
	return func(b *Broker) {
		b.self = member
	}
}

func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		channels:     make(map[string]*brokerChannel),
		rosters:      make(map[string]*roster),
		subscribes:   make(map[string]int),
		unsubscribes: make(map[string]int),
		triggered:    make(map[string][]Frame),
		self:         Member{ID: "me"},
		connection: &brokerConnection{
			emitter: newEmitter(),
			state:   StateConnected,
		},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Broker) Subscribe(name string) Channel {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.channels[name]; exists {
		return ch
	}

	ch := &brokerChannel{
		name:    name,
		broker:  b,
		emitter: newEmitter(),
	}
	if IsPresence(name) {
		ch.roster = b.rosterLocked(name)
	}

	b.channels[name] = ch
	b.subscribes[name]++

	debug.Printf("Broker: subscribed to %s", name)
	return ch
}

func (b *Broker) Unsubscribe(name string) {
	b.mu.Lock()
	ch, exists := b.channels[name]
	if exists {
		delete(b.channels, name)
		if r, ok := b.rosters[name]; ok {
			r.remove(b.self.ID)
			r.clearMe()
		}
	}
	b.unsubscribes[name]++
	b.mu.Unlock()

	if exists {
		ch.emitter.reset()
	}

	debug.Printf("Broker: unsubscribed from %s", name)
}

func (b *Broker) Connection() Connection {
	return b.connection
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.connection.setState(StateDisconnected)
	return nil
}

// Publish delivers event on channel if the channel is subscribed.
func (b *Broker) Publish(channel, event string, data interface{}) bool {
	ch := b.channel(channel)
	if ch == nil {
		return false
	}

	ch.emitter.emit(event, data)
	return true
}

// Acknowledge emits EventSubscriptionSucceeded. On presence channels the
// broker's own member joins the roster first and the event carries the
// roster snapshot.
func (b *Broker) Acknowledge(channel string) bool {
	ch := b.channel(channel)
	if ch == nil {
		return false
	}

	var data interface{}
	if ch.roster != nil {
		ch.roster.setMe(b.self)
		data = ch.roster.snapshot()
	}
	ch.emitter.emit(EventSubscriptionSucceeded, data)
	return true
}

// Join adds member to a presence channel roster and announces it to
// subscribers.
func (b *Broker) Join(channel string, member Member) {
	b.mu.Lock()
	r := b.rosterLocked(channel)
	ch := b.channels[channel]
	b.mu.Unlock()

	r.add(member)
	if ch != nil {
		ch.emitter.emit(EventMemberAdded, member)
	}
}

func (b *Broker) Leave(channel, id string) {
	b.mu.Lock()
	r := b.rosterLocked(channel)
	ch := b.channels[channel]
	b.mu.Unlock()

	member := r.Get(id)
	r.remove(id)
	if ch != nil && member != nil {
		ch.emitter.emit(EventMemberRemoved, *member)
	}
}

// Fail reports err on the connection's error event.
func (b *Broker) Fail(err error) {
	b.connection.emitter.emit(ConnEventError, err)
}

func (b *Broker) SetState(state string) {
	b.connection.setState(state)
}

func (b *Broker) Subscribes(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.subscribes[channel]
}

func (b *Broker) Unsubscribes(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.unsubscribes[channel]
}

func (b *Broker) IsSubscribed(channel string) bool {
	return b.channel(channel) != nil
}

// BindCount reports how many callbacks are bound to event on channel.
func (b *Broker) BindCount(channel, event string) int {
	ch := b.channel(channel)
	if ch == nil {
		return 0
	}
	return ch.emitter.count(event)
}

// Triggered returns the client events triggered on channel.
func (b *Broker) Triggered(channel string) []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]Frame(nil), b.triggered[channel]...)
}

func (b *Broker) channel(name string) *brokerChannel {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.channels[name]
}

func (b *Broker) rosterLocked(name string) *roster {
	r, exists := b.rosters[name]
	if !exists {
		r = newRoster()
		b.rosters[name] = r
	}
	return r
}

type brokerChannel struct {
	name    string
	broker  *Broker
	emitter *emitter
	roster  *roster
}

func (c *brokerChannel) Name() string {
	return c.name
}

func (c *brokerChannel) Bind(event string, cb *Callback) {
	c.emitter.bind(event, cb)
}

func (c *brokerChannel) Unbind(event string, cb *Callback) {
	c.emitter.unbind(event, cb)
}

func (c *brokerChannel) BindAll(handler GlobalHandler) {
	c.emitter.bindAll(handler)
}

func (c *brokerChannel) Trigger(event string, data interface{}) error {
	payload, err := marshalData(data)
	if err != nil {
		return err
	}

	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.broker.channels[c.name] != c {
		return ErrNotSubscribed
	}
	c.broker.triggered[c.name] = append(c.broker.triggered[c.name], Frame{
		Event:   event,
		Channel: c.name,
		Data:    payload,
	})
	return nil
}

func (c *brokerChannel) Members() Members {
	if c.roster == nil {
		return nil
	}
	return c.roster
}

type brokerConnection struct {
	mu      sync.RWMutex
	emitter *emitter
	state   string
}

func (c *brokerConnection) Bind(event string, cb *Callback) {
	c.emitter.bind(event, cb)
}

func (c *brokerConnection) Unbind(event string, cb *Callback) {
	c.emitter.unbind(event, cb)
}

func (c *brokerConnection) BindAll(handler GlobalHandler) {
	c.emitter.bindAll(handler)
}

func (c *brokerConnection) State() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

func (c *brokerConnection) setState(state string) {
	c.mu.Lock()
	previous := c.state
	c.state = state
	c.mu.Unlock()

	if previous == state {
		return
	}

	c.emitter.emit(ConnEventStateChange, StateChange{Previous: previous, Current: state})
	c.emitter.emit(state, nil)
}
