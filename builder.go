package authsession

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/clinicore/authsession/internal/events"
	"github.com/clinicore/authsession/store"
)

// Builder defines a public type used by authsession APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config    Config
	store     store.Store
	transport http.RoundTripper
	eventSink EventSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New returns a Builder seeded with [DefaultConfig]. Construction is
// allocation-only until [Builder.Build].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBaseURL describes the withbaseurl operation and its observable behavior.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.HTTP.BaseURL = baseURL
	return b
}

// WithStore describes the withstore operation and its observable behavior.
//
// WithStore selects the credential persistence backend. The backend is
// chosen exactly once here; no session logic branches on platform.
func (b *Builder) WithStore(st store.Store) *Builder {
	b.store = st
	return b
}

// WithTransport describes the withtransport operation and its observable behavior.
//
// WithTransport sets the underlying HTTP transport used for both the auth
// wire calls and gateway traffic. Tests inject httptest transports here.
func (b *Builder) WithTransport(rt http.RoundTripper) *Builder {
	b.transport = rt
	return b
}

// WithEventSink describes the witheventsink operation and its observable behavior.
//
// WithEventSink enables asynchronous delivery of session events to sink.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	b.config.Events.Enabled = true
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	transport := b.transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	instanceID := uuid.NewString()

	api := &apiClient{
		baseURL:   cfg.HTTP.BaseURL,
		endpoints: cfg.Endpoints,
		httpClient: &http.Client{
			Timeout:   cfg.HTTP.Timeout,
			Transport: transport,
		},
		userAgent:  cfg.HTTP.UserAgent,
		instanceID: instanceID,
	}

	state := newSessionState()
	bus := events.NewBus()
	metrics := NewMetrics(cfg.Metrics)

	coordinator := newRefreshCoordinator(api, state, b.store, cfg.Storage, bus, metrics)

	exempt := map[string]struct{}{
		cfg.Endpoints.Login:   {},
		cfg.Endpoints.Refresh: {},
		cfg.Endpoints.Profile: {},
	}
	for _, path := range cfg.Endpoints.ExtraExempt {
		exempt[path] = struct{}{}
	}

	gateway := &RequestGateway{
		base:        transport,
		state:       state,
		coordinator: coordinator,
		exempt:      exempt,
		skew:        cfg.Token.ExpirySkew,
		userAgent:   cfg.HTTP.UserAgent,
		instanceID:  instanceID,
		metrics:     metrics,
	}

	dispatcher := events.NewDispatcher(events.Config{
		Enabled:    cfg.Events.Enabled,
		BufferSize: cfg.Events.BufferSize,
		DropIfFull: cfg.Events.DropIfFull,
	}, b.eventSink)

	manager := &Manager{
		config:      cfg,
		state:       state,
		store:       b.store,
		api:         api,
		coordinator: coordinator,
		gateway:     gateway,
		bus:         bus,
		dispatcher:  dispatcher,
		metrics:     metrics,
		instanceID:  instanceID,
	}

	bus.Subscribe(manager.handleEvent)
	if dispatcher != nil {
		bus.Subscribe(func(event events.Event) {
			dispatcher.Emit(nil, event)
		})
	}

	b.built = true

	return manager, nil
}
