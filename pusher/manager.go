package pusher

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kleeedolinux/pusher.go/debug"
	"github.com/kleeedolinux/pusher.go/pusher/transport"

	"go.uber.org/zap"
)

// Manager owns the channel subscriptions of one transport client. A
// channel stays subscribed while it has at least one listener or owner and
// is unsubscribed the moment the last one is released.
type Manager struct {
	mu       sync.Mutex
	client   transport.Client
	host     Host
	metrics  *Metrics
	log      *zap.Logger
	channels map[string]*channelEntry
}

type channelEntry struct {
	name   string
	base   transport.Channel
	handle *Channel
	events map[string]*listenerGroup
	scopes map[*Scope]int
	pinned int
}

type listenerGroup struct {
	listeners []*Listener
}

func (e *channelEntry) unused() bool {
	return len(e.events) == 0 && len(e.scopes) == 0 && e.pinned == 0
}

// Listener is one registration made through Manager.On.
type Listener struct {
	id      string
	channel string
	event   string
	handler Handler
	cb      *transport.Callback
	manager *Manager

	active atomic.Bool
	once   sync.Once
}

func (l *Listener) ID() string {
	return l.id
}

func (l *Listener) Channel() string {
	return l.channel
}

func (l *Listener) Event() string {
	return l.event
}

// Remove unbinds the listener and releases its channel if nothing else
// references it. Deliveries already queued on the host are dropped.
func (l *Listener) Remove() {
	l.once.Do(func() {
		l.active.Store(false)
		l.manager.removeListener(l)
	})
}

func (l *Listener) deliver(data interface{}) {
	m := l.manager
	m.metrics.deliveryDeferred()

	m.host.Defer(func() {
		if !l.active.Load() {
			m.metrics.deliveryStale()
			debug.Printf("Manager: dropping %s/%s delivery for removed listener %s", l.channel, l.event, l.id)
			return
		}

		debug.Printf("Manager: invoking %s/%s listener %s", l.channel, l.event, l.id)
		l.handler(data)
		m.host.Digest()
	})
}

type ManagerOption func(*Manager)

func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithManagerLogger logs channel lifecycle events to log instead of the
// shared debug logger.
func WithManagerLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

func NewManager(client transport.Client, host Host, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:   client,
		host:     host,
		channels: make(map[string]*channelEntry),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}

	return m
}

// On binds handler to event on channel, subscribing to the channel first if
// needed. When scope is destroyed the listener is removed; with a nil scope
// the caller releases it through the returned Listener. Repeated calls add
// independent listeners.
func (m *Manager) On(channel, event string, scope *Scope, handler Handler) (*Listener, error) {
	if channel == "" {
		return nil, ErrEmptyChannelName
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	l := &Listener{
		id:      generateID(),
		channel: channel,
		event:   event,
		handler: handler,
		manager: m,
	}
	l.active.Store(true)
	l.cb = transport.NewCallback(l.deliver)

	m.mu.Lock()
	entry, err := m.acquire(channel)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	group, exists := entry.events[event]
	if !exists {
		group = &listenerGroup{}
		entry.events[event] = group
	}
	entry.base.Bind(event, l.cb)
	group.listeners = append(group.listeners, l)
	m.mu.Unlock()

	m.metrics.listenerAdded()
	debug.Printf("Manager: bound listener %s to %s/%s", l.id, channel, event)

	if scope != nil {
		scope.OnDestroy(l.Remove)
	}

	return l, nil
}

// Subscribe returns the shared handle for channel and records scope as one
// of its owners. Destroying scope releases that ownership; a nil scope owns
// the channel until the manager is closed.
func (m *Manager) Subscribe(channel string, scope *Scope) (*Channel, error) {
	if channel == "" {
		return nil, ErrEmptyChannelName
	}

	m.mu.Lock()
	entry, err := m.acquire(channel)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	if entry.handle == nil {
		handle, err := NewChannel(entry.base, m.host)
		if err != nil {
			m.releaseIfUnused(entry)
			m.mu.Unlock()
			return nil, err
		}
		entry.handle = handle
	}

	if scope != nil {
		entry.scopes[scope]++
	} else {
		entry.pinned++
	}
	handle := entry.handle
	m.mu.Unlock()

	if scope != nil {
		scope.OnDestroy(func() { m.release(channel, scope) })
	}

	return handle, nil
}

// Channel returns the handle of a channel previously obtained through
// Subscribe, if the channel is still subscribed.
func (m *Manager) Channel(name string) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.channels[name]
	if !exists || entry.handle == nil {
		return nil, false
	}
	return entry.handle, true
}

// Channels returns the names of the subscribed channels, sorted.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (m *Manager) ListenerCount(channel, event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.channels[channel]
	if !exists {
		return 0
	}
	group, exists := entry.events[event]
	if !exists {
		return 0
	}
	return len(group.listeners)
}

// Close removes every listener and unsubscribes every channel.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := make([]*channelEntry, 0, len(m.channels))
	for _, entry := range m.channels {
		entries = append(entries, entry)
	}
	m.channels = make(map[string]*channelEntry)

	removed := 0
	for _, entry := range entries {
		for event, group := range entry.events {
			for _, l := range group.listeners {
				l.active.Store(false)
				l.once.Do(func() {})
				entry.base.Unbind(event, l.cb)
				removed++
			}
		}
		m.client.Unsubscribe(entry.name)
	}
	m.mu.Unlock()

	for i := 0; i < removed; i++ {
		m.metrics.listenerRemoved()
	}
	for range entries {
		m.metrics.channelUnsubscribed()
	}
}

// acquire returns the entry for name, subscribing on first use. m.mu must
// be held.
func (m *Manager) acquire(name string) (*channelEntry, error) {
	if entry, exists := m.channels[name]; exists {
		return entry, nil
	}

	base := m.client.Subscribe(name)
	if isNil(base) || base.Name() == "" {
		m.client.Unsubscribe(name)
		return nil, fmt.Errorf("%w: subscribe %s", ErrInvalidChannel, name)
	}

	entry := &channelEntry{
		name:   name,
		base:   base,
		events: make(map[string]*listenerGroup),
		scopes: make(map[*Scope]int),
	}
	m.channels[name] = entry
	m.metrics.channelSubscribed()

	m.logger().Debug("joined channel", zap.String("channel", name))
	return entry, nil
}

func (m *Manager) removeListener(l *Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.channels[l.channel]
	if !exists {
		return
	}

	debug.Printf("Manager: unbinding listener %s from %s/%s", l.id, l.channel, l.event)
	entry.base.Unbind(l.event, l.cb)

	group, exists := entry.events[l.event]
	if !exists {
		return
	}
	for i, registered := range group.listeners {
		if registered == l {
			group.listeners = append(group.listeners[:i:i], group.listeners[i+1:]...)
			m.metrics.listenerRemoved()
			break
		}
	}
	if len(group.listeners) == 0 {
		delete(entry.events, l.event)
	}

	m.releaseIfUnused(entry)
}

func (m *Manager) release(channel string, scope *Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.channels[channel]
	if !exists {
		return
	}

	if entry.scopes[scope] <= 1 {
		delete(entry.scopes, scope)
	} else {
		entry.scopes[scope]--
	}

	m.releaseIfUnused(entry)
}

// releaseIfUnused unsubscribes entry once nothing references it. m.mu must
// be held.
func (m *Manager) releaseIfUnused(entry *channelEntry) {
	if !entry.unused() {
		return
	}

	m.client.Unsubscribe(entry.name)
	delete(m.channels, entry.name)
	m.metrics.channelUnsubscribed()

	m.logger().Debug("left channel", zap.String("channel", entry.name))
}

func (m *Manager) logger() *zap.Logger {
	if m.log != nil {
		return m.log
	}
	return debug.Logger()
}
