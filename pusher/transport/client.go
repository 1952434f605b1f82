package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kleeedolinux/pusher.go/debug"

	"golang.org/x/time/rate"
)

var ErrSendBufferFull = errors.New("send buffer full")

// WebSocketClient is a Client speaking JSON frames over a FrameTransport.
// It does not reconnect and does not sign private or presence
// subscriptions; both are left to the server side or a wrapping client.
type WebSocketClient struct {
	mu         sync.RWMutex
	socketID   string
	conn       FrameTransport
	channels   map[string]*wsChannel
	connection *wsConnection
	self       *Member

	connected bool
	dropped   bool
	sendCh    chan Frame

	activityTimeout time.Duration
	lastActivity    atomic.Int64
	limiter         *rate.Limiter

	ctx        context.Context
	cancelFunc context.CancelFunc
}

type ClientOption func(*WebSocketClient)

// WithActivityTimeout sets how long the connection may stay silent before
// the client pings the server. Zero disables pings.
func WithActivityTimeout(d time.Duration) ClientOption {
	return func(c *WebSocketClient) {
		c.activityTimeout = d
	}
}

// WithClientEventRate limits client events triggered through the client.
func WithClientEventRate(perSecond float64, burst int) ClientOption {
	return func(c *WebSocketClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithSendBuffer(size int) ClientOption {
	return func(c *WebSocketClient) {
		c.sendCh = make(chan Frame, size)
	}
}

// WithUser sets the member reported as "me" on presence channels once a
// subscription is acknowledged.
func WithUser(member Member) ClientOption {
	return func(c *WebSocketClient) {
		c.self = &member
	}
}

func NewWebSocketClient(t FrameTransport, opts ...ClientOption) *WebSocketClient {
	ctx, cancel := context.WithCancel(context.Background())

	client := &WebSocketClient{
		conn:     t,
		channels: make(map[string]*wsChannel),
		connection: &wsConnection{
			emitter: newEmitter(),
			state:   StateInitialized,
		},
		sendCh:          make(chan Frame, 100),
		activityTimeout: 120 * time.Second,
		limiter:         rate.NewLimiter(rate.Limit(10), 10),
		ctx:             ctx,
		cancelFunc:      cancel,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func (c *WebSocketClient) SocketID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.socketID
}

// Connect dials the transport once. After the connection is lost it returns
// ErrDisconnected; a new client is needed to connect again.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.dropped {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.mu.Unlock()

	c.connection.setState(StateConnecting)

	if err := c.conn.Connect(ctx); err != nil {
		c.connection.setState(StateFailed)
		c.connection.emitter.emit(ConnEventError, err)
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.lastActivity.Store(time.Now().UnixNano())

	go c.sendLoop()
	go c.receiveLoop()
	if c.activityTimeout > 0 {
		go c.activityLoop()
	}

	return nil
}

func (c *WebSocketClient) Subscribe(name string) Channel {
	c.mu.Lock()
	ch, exists := c.channels[name]
	if !exists {
		ch = &wsChannel{
			name:    name,
			client:  c,
			emitter: newEmitter(),
		}
		if IsPresence(name) {
			ch.roster = newRoster()
		}
		c.channels[name] = ch
	}
	// Channels added before the server greets us are subscribed from
	// handleFrame once the socket id arrives.
	established := c.connected && c.socketID != ""
	c.mu.Unlock()

	if !exists && established {
		c.sendSubscribe(name)
	}

	return ch
}

func (c *WebSocketClient) Unsubscribe(name string) {
	c.mu.Lock()
	ch, exists := c.channels[name]
	delete(c.channels, name)
	connected := c.connected
	c.mu.Unlock()

	if !exists {
		return
	}

	ch.setSubscribed(false)
	ch.emitter.reset()

	if connected {
		if err := c.enqueue(Frame{Event: EventUnsubscribe, Data: channelPayload(name)}); err != nil {
			debug.Printf("WebSocketClient: unsubscribe %s failed: %v", name, err)
		}
	}
}

func (c *WebSocketClient) Connection() Connection {
	return c.connection
}

func (c *WebSocketClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return nil
	}

	c.cancelFunc()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if !wasConnected {
		return nil
	}

	c.connection.setState(StateDisconnected)
	return c.conn.Close()
}

func (c *WebSocketClient) sendSubscribe(name string) {
	if err := c.enqueue(Frame{Event: EventSubscribe, Data: channelPayload(name)}); err != nil {
		debug.Printf("WebSocketClient: subscribe %s failed: %v", name, err)
	}
}

func (c *WebSocketClient) enqueue(frame Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return ErrNotConnected
	}

	select {
	case c.sendCh <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *WebSocketClient) sendLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.sendCh:
			data, err := json.Marshal(frame)
			if err != nil {
				c.connection.emitter.emit(ConnEventError, err)
				continue
			}

			if err := c.conn.Send(data); err != nil {
				c.connection.emitter.emit(ConnEventError, err)
				c.handleDisconnect(err)
				return
			}
		}
	}
}

func (c *WebSocketClient) receiveLoop() {
	for {
		data, err := c.conn.Receive()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.connection.emitter.emit(ConnEventError, err)
			c.handleDisconnect(err)
			return
		}

		c.lastActivity.Store(time.Now().UnixNano())

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.connection.emitter.emit(ConnEventError, ErrInvalidFrame)
			continue
		}

		c.handleFrame(frame)
	}
}

func (c *WebSocketClient) activityLoop() {
	ticker := time.NewTicker(c.activityTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastActivity.Load()))
			if idle < c.activityTimeout {
				continue
			}
			if err := c.enqueue(Frame{Event: EventPing, Data: json.RawMessage("{}")}); err != nil {
				if errors.Is(err, ErrNotConnected) {
					return
				}
				debug.Printf("WebSocketClient: ping failed: %v", err)
			}
		}
	}
}

func (c *WebSocketClient) handleDisconnect(err error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}

	c.connected = false
	c.dropped = true
	c.socketID = ""
	channels := make([]*wsChannel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	debug.Printf("WebSocketClient: disconnected: %v", err)

	for _, ch := range channels {
		ch.setSubscribed(false)
	}
	c.connection.setState(StateDisconnected)
}

func (c *WebSocketClient) handleFrame(frame Frame) {
	switch frame.Event {
	case EventConnectionEstablished:
		var established struct {
			SocketID        string `json:"socket_id"`
			ActivityTimeout int    `json:"activity_timeout"`
		}
		if err := decodeInto(frame.Data, &established); err != nil {
			c.connection.emitter.emit(ConnEventError, err)
			return
		}

		c.mu.Lock()
		c.socketID = established.SocketID
		pending := make([]string, 0, len(c.channels))
		for name := range c.channels {
			pending = append(pending, name)
		}
		c.mu.Unlock()

		c.connection.setState(StateConnected)

		for _, name := range pending {
			c.sendSubscribe(name)
		}
	case EventError:
		c.connection.emitter.emit(ConnEventError, decodeData(frame.Data))
	case EventPing:
		if err := c.enqueue(Frame{Event: EventPong, Data: json.RawMessage("{}")}); err != nil {
			debug.Printf("WebSocketClient: pong failed: %v", err)
		}
	case EventPong:
	default:
		c.mu.RLock()
		ch := c.channels[frame.Channel]
		c.mu.RUnlock()

		if ch == nil {
			debug.Printf("WebSocketClient: dropping %s for unknown channel %q", frame.Event, frame.Channel)
			return
		}
		ch.handle(frame)
	}
}

type wsChannel struct {
	name    string
	client  *WebSocketClient
	emitter *emitter
	roster  *roster

	mu         sync.RWMutex
	subscribed bool
}

func (ch *wsChannel) Name() string {
	return ch.name
}

func (ch *wsChannel) Bind(event string, cb *Callback) {
	ch.emitter.bind(event, cb)
}

func (ch *wsChannel) Unbind(event string, cb *Callback) {
	ch.emitter.unbind(event, cb)
}

func (ch *wsChannel) BindAll(handler GlobalHandler) {
	ch.emitter.bindAll(handler)
}

func (ch *wsChannel) Trigger(event string, data interface{}) error {
	if !ch.isSubscribed() {
		return ErrNotSubscribed
	}
	if !ch.client.limiter.Allow() {
		return ErrRateLimited
	}

	payload, err := marshalData(data)
	if err != nil {
		return err
	}

	return ch.client.enqueue(Frame{Event: event, Channel: ch.name, Data: payload})
}

func (ch *wsChannel) Members() Members {
	if ch.roster == nil {
		return nil
	}
	return ch.roster
}

func (ch *wsChannel) isSubscribed() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	return ch.subscribed
}

func (ch *wsChannel) setSubscribed(subscribed bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.subscribed = subscribed
}

func (ch *wsChannel) handle(frame Frame) {
	switch frame.Event {
	case internalSubscriptionSucceeded:
		ch.setSubscribed(true)

		if ch.roster == nil {
			ch.emitter.emit(EventSubscriptionSucceeded, nil)
			return
		}

		var data struct {
			Presence struct {
				Hash map[string]interface{} `json:"hash"`
			} `json:"presence"`
		}
		if err := decodeInto(frame.Data, &data); err != nil {
			ch.emitter.emit(EventSubscriptionError, err)
			return
		}
		ch.roster.replace(data.Presence.Hash)
		if self := ch.client.self; self != nil {
			me := *self
			if info, ok := data.Presence.Hash[me.ID]; ok {
				me.Info = info
			}
			ch.roster.setMe(me)
		}
		ch.emitter.emit(EventSubscriptionSucceeded, ch.roster.snapshot())
	case internalMemberAdded, internalMemberRemoved:
		if ch.roster == nil {
			return
		}

		var data struct {
			UserID   string      `json:"user_id"`
			UserInfo interface{} `json:"user_info"`
		}
		if err := decodeInto(frame.Data, &data); err != nil {
			debug.Printf("WebSocketClient: bad member frame on %s: %v", ch.name, err)
			return
		}

		member := Member{ID: data.UserID, Info: data.UserInfo}
		if frame.Event == internalMemberAdded {
			ch.roster.add(member)
			ch.emitter.emit(EventMemberAdded, member)
			return
		}
		ch.roster.remove(member.ID)
		ch.emitter.emit(EventMemberRemoved, member)
	default:
		ch.emitter.emit(frame.Event, decodeData(frame.Data))
	}
}

type wsConnection struct {
	mu      sync.RWMutex
	emitter *emitter
	state   string
}

func (c *wsConnection) Bind(event string, cb *Callback) {
	c.emitter.bind(event, cb)
}

func (c *wsConnection) Unbind(event string, cb *Callback) {
	c.emitter.unbind(event, cb)
}

func (c *wsConnection) BindAll(handler GlobalHandler) {
	c.emitter.bindAll(handler)
}

func (c *wsConnection) State() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

func (c *wsConnection) setState(state string) {
	c.mu.Lock()
	previous := c.state
	c.state = state
	c.mu.Unlock()

	if previous == state {
		return
	}

	debug.Printf("WebSocketClient: state %s -> %s", previous, state)
	c.emitter.emit(ConnEventStateChange, StateChange{Previous: previous, Current: state})
	c.emitter.emit(state, nil)
}

func channelPayload(name string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"channel": name})
	return data
}

func marshalData(data interface{}) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// decodeData decodes a frame payload. Servers usually send data as a JSON
// encoded string; when the string itself holds JSON the inner value is
// returned.
func decodeData(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}

	if s, ok := value.(string); ok {
		var inner interface{}
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			return inner
		}
		return s
	}

	return value
}

func decodeInto(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return ErrInvalidFrame
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return json.Unmarshal([]byte(s), target)
	}
	return json.Unmarshal(raw, target)
}
