package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer speaks enough of the channels protocol to drive the client:
// it greets each connection, acknowledges subscriptions and records every
// frame it receives.
type fakeServer struct {
	*httptest.Server
	received chan Frame
	outgoing chan Frame
	drop     chan struct{}
	presence map[string]interface{}
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	s := &fakeServer{
		received: make(chan Frame, 64),
		outgoing: make(chan Frame, 64),
		drop:     make(chan struct{}, 1),
		presence: map[string]interface{}{
			"me":  nil,
			"bob": map[string]interface{}{"name": "Bob"},
		},
	}

	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		defer close(done)

		go func() {
			for {
				select {
				case <-done:
					return
				case <-s.drop:
					conn.Close()
					return
				case frame := <-s.outgoing:
					if err := conn.WriteJSON(frame); err != nil {
						return
					}
				}
			}
		}()

		s.outgoing <- Frame{
			Event: EventConnectionEstablished,
			Data:  stringData(t, map[string]interface{}{"socket_id": "123.456", "activity_timeout": 120}),
		}

		for {
			var frame Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			s.received <- frame

			if frame.Event == EventSubscribe {
				var payload struct {
					Channel string `json:"channel"`
				}
				if err := json.Unmarshal(frame.Data, &payload); err != nil {
					return
				}
				s.outgoing <- s.acknowledge(t, payload.Channel)
			}
		}
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *fakeServer) acknowledge(t *testing.T, channel string) Frame {
	frame := Frame{Event: internalSubscriptionSucceeded, Channel: channel}
	if IsPresence(channel) {
		frame.Data = stringData(t, map[string]interface{}{
			"presence": map[string]interface{}{
				"count": len(s.presence),
				"hash":  s.presence,
			},
		})
	} else {
		frame.Data = stringData(t, map[string]interface{}{})
	}
	return frame
}

func (s *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/app/key"
}

// expect waits for the next frame named event, skipping any other frame.
func (s *fakeServer) expect(t *testing.T, event string) Frame {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame := <-s.received:
			if frame.Event == event {
				return frame
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
			return Frame{}
		}
	}
}

// stringData encodes v the way servers do: as a JSON string holding JSON.
func stringData(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()

	inner, err := json.Marshal(v)
	require.NoError(t, err)
	outer, err := json.Marshal(string(inner))
	require.NoError(t, err)
	return outer
}

func newTestClient(t *testing.T, s *fakeServer, opts ...ClientOption) *WebSocketClient {
	t.Helper()

	opts = append([]ClientOption{WithActivityTimeout(0)}, opts...)
	client := NewWebSocketClient(NewWebSocketTransport(s.url()), opts...)
	t.Cleanup(func() { client.Close() })

	return client
}

func connect(t *testing.T, client *WebSocketClient) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	require.Eventually(t, func() bool {
		return client.Connection().State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func connectClient(t *testing.T, s *fakeServer, opts ...ClientOption) *WebSocketClient {
	t.Helper()

	client := newTestClient(t, s, opts...)
	connect(t, client)
	return client
}

func waitFor(t *testing.T, ch <-chan interface{}) interface{} {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestWebSocketClientChannelEvents(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, server, WithClientEventRate(1, 1))

	ch := client.Subscribe("private-chat")
	assert.ErrorIs(t, ch.Trigger("client-typing", nil), ErrNotSubscribed)

	acked := make(chan interface{}, 1)
	ch.Bind(EventSubscriptionSucceeded, NewCallback(func(data interface{}) { acked <- data }))
	messages := make(chan interface{}, 1)
	ch.Bind("message", NewCallback(func(data interface{}) { messages <- data }))

	connect(t, client)
	assert.Equal(t, "123.456", client.SocketID())
	assert.True(t, client.IsConnected())

	subscribe := server.expect(t, EventSubscribe)
	assert.JSONEq(t, `{"channel":"private-chat"}`, string(subscribe.Data))
	waitFor(t, acked)

	server.outgoing <- Frame{
		Event:   "message",
		Channel: "private-chat",
		Data:    stringData(t, map[string]interface{}{"text": "hi"}),
	}
	assert.Equal(t, map[string]interface{}{"text": "hi"}, waitFor(t, messages))

	require.NoError(t, ch.Trigger("client-typing", map[string]bool{"typing": true}))
	triggered := server.expect(t, "client-typing")
	assert.Equal(t, "private-chat", triggered.Channel)
	assert.JSONEq(t, `{"typing":true}`, string(triggered.Data))

	assert.ErrorIs(t, ch.Trigger("client-typing", nil), ErrRateLimited)

	client.Unsubscribe("private-chat")
	unsubscribe := server.expect(t, EventUnsubscribe)
	assert.JSONEq(t, `{"channel":"private-chat"}`, string(unsubscribe.Data))
	assert.ErrorIs(t, ch.Trigger("client-typing", nil), ErrNotSubscribed)
}

func TestWebSocketClientPresence(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, server, WithUser(Member{ID: "me"}))

	ch := client.Subscribe("presence-room")
	snapshots := make(chan interface{}, 1)
	ch.Bind(EventSubscriptionSucceeded, NewCallback(func(data interface{}) { snapshots <- data }))
	added := make(chan interface{}, 1)
	ch.Bind(EventMemberAdded, NewCallback(func(data interface{}) { added <- data }))
	removed := make(chan interface{}, 1)
	ch.Bind(EventMemberRemoved, NewCallback(func(data interface{}) { removed <- data }))
	connect(t, client)

	snapshot, ok := waitFor(t, snapshots).(*MembersSnapshot)
	require.True(t, ok)
	assert.Equal(t, 2, snapshot.Count)
	require.NotNil(t, snapshot.Me)
	assert.Equal(t, "me", snapshot.Me.ID)
	assert.Equal(t, map[string]interface{}{"name": "Bob"}, snapshot.Members["bob"])

	server.outgoing <- Frame{
		Event:   internalMemberAdded,
		Channel: "presence-room",
		Data:    stringData(t, map[string]interface{}{"user_id": "carol", "user_info": map[string]interface{}{}}),
	}
	assert.Equal(t, Member{ID: "carol", Info: map[string]interface{}{}}, waitFor(t, added))

	server.outgoing <- Frame{
		Event:   internalMemberRemoved,
		Channel: "presence-room",
		Data:    stringData(t, map[string]interface{}{"user_id": "bob"}),
	}
	assert.Equal(t, "bob", waitFor(t, removed).(Member).ID)

	members := ch.Members()
	require.NotNil(t, members)
	assert.Equal(t, 2, members.Count())
	assert.Nil(t, members.Get("bob"))
	assert.NotNil(t, members.Get("carol"))
}

func TestWebSocketClientPingAndErrors(t *testing.T) {
	server := newFakeServer(t)
	client := connectClient(t, server)

	errs := make(chan interface{}, 1)
	client.Connection().Bind(ConnEventError, NewCallback(func(data interface{}) { errs <- data }))

	server.outgoing <- Frame{Event: EventPing, Data: json.RawMessage(`{}`)}
	server.expect(t, EventPong)

	server.outgoing <- Frame{
		Event: EventError,
		Data:  json.RawMessage(`{"message":"over quota","code":4004}`),
	}
	assert.Equal(t, map[string]interface{}{"message": "over quota", "code": float64(4004)}, waitFor(t, errs))
}

func TestWebSocketClientResubscribesOnConnect(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, server)

	client.Subscribe("room1")
	assert.Equal(t, StateInitialized, client.Connection().State())

	require.NoError(t, client.Connect(context.Background()))
	frame := server.expect(t, EventSubscribe)
	assert.JSONEq(t, `{"channel":"room1"}`, string(frame.Data))
}

func TestWebSocketClientClose(t *testing.T) {
	server := newFakeServer(t)
	client := connectClient(t, server)

	var states []string
	client.Connection().BindAll(func(event string, _ interface{}) {
		if event != ConnEventStateChange {
			states = append(states, event)
		}
	})

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	assert.Equal(t, []string{StateDisconnected}, states)
	assert.False(t, client.IsConnected())
	assert.ErrorIs(t, client.Connect(context.Background()), ErrClosed)
}

func TestWebSocketClientDoesNotReconnect(t *testing.T) {
	server := newFakeServer(t)
	client := connectClient(t, server)
	ch := client.Subscribe("room1")
	server.expect(t, EventSubscribe)

	server.drop <- struct{}{}
	require.Eventually(t, func() bool {
		return client.Connection().State() == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	assert.False(t, client.IsConnected())
	assert.Empty(t, client.SocketID())
	assert.ErrorIs(t, ch.Trigger("client-typing", nil), ErrNotSubscribed)
	assert.ErrorIs(t, client.Connect(context.Background()), ErrDisconnected)
	assert.Equal(t, StateDisconnected, client.Connection().State())
}

func TestWebSocketTransportRedialsAfterDrop(t *testing.T) {
	server := newFakeServer(t)
	ws := NewWebSocketTransport(server.url())
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, ws.Connect(ctx))
	greeting, err := ws.Receive()
	require.NoError(t, err)
	assert.Contains(t, string(greeting), EventConnectionEstablished)

	server.drop <- struct{}{}
	_, err = ws.Receive()
	require.Error(t, err)

	_, err = ws.Receive()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, ws.Send([]byte(`{}`)), ErrNotConnected)

	require.NoError(t, ws.Connect(ctx))
	greeting, err = ws.Receive()
	require.NoError(t, err)
	assert.Contains(t, string(greeting), EventConnectionEstablished)
}

func TestWebSocketClientConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewWebSocketClient(NewWebSocketTransport("ws" + strings.TrimPrefix(server.URL, "http")))
	defer client.Close()

	errs := make(chan interface{}, 1)
	client.Connection().Bind(ConnEventError, NewCallback(func(data interface{}) { errs <- data }))

	assert.Error(t, client.Connect(context.Background()))
	assert.Equal(t, StateFailed, client.Connection().State())
	assert.Error(t, waitFor(t, errs).(error))
}

func TestAppURL(t *testing.T) {
	assert.Equal(t,
		"wss://ws-mt1.pusher.com/app/key?client=pusher.go&protocol=7&version=0.1.0",
		AppURL("ws-mt1.pusher.com", "key", true))
	assert.Equal(t,
		"ws://localhost:6001/app/key?client=pusher.go&protocol=7&version=0.1.0",
		AppURL("localhost:6001", "key", false))
}

func TestDecodeData(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want interface{}
	}{
		{name: "empty", raw: "", want: nil},
		{name: "json in string", raw: `"{\"a\":1}"`, want: map[string]interface{}{"a": float64(1)}},
		{name: "plain string", raw: `"hello"`, want: "hello"},
		{name: "object", raw: `{"a":"b"}`, want: map[string]interface{}{"a": "b"}},
		{name: "invalid", raw: `{nope`, want: "{nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeData(json.RawMessage(tt.raw)))
		})
	}
}
