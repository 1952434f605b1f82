package pusher

import (
	"context"
	"errors"
	"fmt"

	"github.com/kleeedolinux/pusher.go/config"
	"github.com/kleeedolinux/pusher.go/debug"
	"github.com/kleeedolinux/pusher.go/pusher/transport"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Pusher is the process-wide connection: one transport client, the host its
// events run on, the connection handle and the subscription manager.
type Pusher struct {
	*Manager

	cfg        config.Config
	client     transport.Client
	host       Host
	loop       *Loop
	connection *Connection
}

type options struct {
	client     transport.Client
	host       Host
	registerer prometheus.Registerer
	log        *zap.Logger
	clientOpts []transport.ClientOption
}

type Option func(*options)

// WithTransport uses client instead of dialing the configured endpoint.
func WithTransport(client transport.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithHost runs callbacks on host instead of a Loop owned by the Pusher.
func WithHost(host Host) Option {
	return func(o *options) {
		o.host = host
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithLogger sends the connection's log lines to log.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithClientOptions passes extra options to the websocket client.
func WithClientOptions(opts ...transport.ClientOption) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// New validates cfg, connects and returns the Pusher. appKey, when not
// empty, overrides cfg.AppKey. The configuration is fixed for the lifetime
// of the returned value.
func New(ctx context.Context, appKey string, cfg config.Config, opts ...Option) (*Pusher, error) {
	if appKey != "" {
		cfg.AppKey = appKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = debug.Named("pusher")
	}

	client := o.client
	if client == nil {
		ws, err := dial(ctx, cfg, o.clientOpts)
		if err != nil {
			return nil, err
		}
		client = ws
	}

	p := &Pusher{
		cfg:    cfg,
		client: client,
		host:   o.host,
	}
	if p.host == nil {
		p.loop = NewLoop()
		p.host = p.loop
	}

	connection, err := NewConnection(client.Connection(), p.host)
	if err != nil {
		return nil, errors.Join(err, p.shutdown())
	}
	p.connection = connection
	p.Manager = NewManager(client, p.host,
		WithMetrics(NewMetrics(o.registerer)),
		WithManagerLogger(o.log))

	o.log.Info("pusher connection created",
		zap.String("endpoint", cfg.Endpoint()),
		zap.Bool("secure", cfg.Secure))

	return p, nil
}

func dial(ctx context.Context, cfg config.Config, extra []transport.ClientOption) (*transport.WebSocketClient, error) {
	url := transport.AppURL(cfg.Endpoint(), cfg.AppKey, cfg.Secure)

	opts := []transport.ClientOption{
		transport.WithActivityTimeout(cfg.ActivityTimeout),
		transport.WithClientEventRate(cfg.ClientEventRate, cfg.ClientEventBurst),
	}
	opts = append(opts, extra...)

	client := transport.NewWebSocketClient(transport.NewWebSocketTransport(url), opts...)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Endpoint(), err)
	}
	return client, nil
}

func (p *Pusher) Config() config.Config {
	return p.cfg
}

func (p *Pusher) Connection() *Connection {
	return p.connection
}

func (p *Pusher) Client() transport.Client {
	return p.client
}

func (p *Pusher) Host() Host {
	return p.host
}

// Close releases every channel, closes the transport and stops the loop
// the Pusher owns.
func (p *Pusher) Close() error {
	if p.Manager != nil {
		p.Manager.Close()
	}
	return p.shutdown()
}

func (p *Pusher) shutdown() error {
	err := p.client.Close()
	if p.loop != nil {
		p.loop.Close()
	}
	return err
}
