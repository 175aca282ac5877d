// Package agentlyformat is the public facade over the streaming JSON
// completion/diff/event-bus core: it assembles internal/config,
// internal/session, and the format sub-packages behind a small surface
// (Core, Session, functional Option) so a consumer never reaches into
// internal packages directly (spec §1, §6).
package agentlyformat

import (
	"context"
	"log/slog"

	"github.com/ailijian/AgentlyFormat/internal/config"
	"github.com/ailijian/AgentlyFormat/internal/eventbus"
	"github.com/ailijian/AgentlyFormat/internal/format/completer"
	"github.com/ailijian/AgentlyFormat/internal/format/differ"
	"github.com/ailijian/AgentlyFormat/internal/format/event"
	"github.com/ailijian/AgentlyFormat/internal/format/path"
	"github.com/ailijian/AgentlyFormat/internal/format/strategy"
	"github.com/ailijian/AgentlyFormat/internal/format/tree"
	"github.com/ailijian/AgentlyFormat/internal/obs"
	"github.com/ailijian/AgentlyFormat/internal/session"
)

// Option customizes Core construction.
type Option func(*options)

type options struct {
	configPath  string
	logger      *slog.Logger
	schemaHook  completer.SchemaHook
	obsProvider *obs.Provider
}

// WithConfigFile loads configuration from a YAML file instead of the
// built-in defaults.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithLogger installs a structured logger used for session-manager and
// event-bus diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSchemaHook installs the schema-suggestion callback invoked after
// every successful completion (spec §6, "Schema hook").
func WithSchemaHook(hook completer.SchemaHook) Option {
	return func(o *options) { o.schemaHook = hook }
}

// WithObservability installs an obs.Provider so every ingest/finalize
// call gets a span and every pipeline event updates its metrics. When
// omitted, Core runs with tracing and metrics disabled.
func WithObservability(provider *obs.Provider) Option {
	return func(o *options) { o.obsProvider = provider }
}

// Core is the top-level entry point: one Core typically backs one server
// process and owns every session's pipeline plus the TTL sweep.
type Core struct {
	manager *session.Manager
	cfg     config.Config
}

// New builds a Core from the given options.
func New(opts ...Option) (*Core, error) {
	o := &options{}
	for _, apply := range opts {
		apply(o)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	sessCfg := toSessionConfig(cfg)
	sessCfg.SchemaHook = o.schemaHook
	sessCfg.Obs = o.obsProvider
	if o.logger != nil {
		sessCfg.EventBus.Logger = o.logger
	}

	return &Core{
		manager: session.New(sessCfg, o.logger),
		cfg:     cfg,
	}, nil
}

func toSessionConfig(cfg config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.MaxBufferBytes = cfg.MaxBufferBytes
	sc.SessionTTL = cfg.SessionTTL()
	sc.CleanupPeriod = cfg.CleanupPeriod()
	sc.MaxSessions = cfg.MaxSessions
	sc.DefaultStrategy = completer.ParseStrategy(cfg.DefaultStrategy)
	sc.AdaptiveEnabled = cfg.AdaptiveEnabled
	sc.Selector = strategy.Config{
		ConsecutiveFailureThreshold: cfg.ConsecutiveFailureThreshold,
		MinSwitchInterval:           cfg.MinSwitchInterval(),
	}
	sc.DiffMode = parseDiffMode(cfg.DiffMode)
	sc.Coalesce.Enabled = cfg.CoalesceEnabled
	sc.Coalesce.TimeWindow = cfg.CoalesceWindow()
	sc.Coalesce.Stability = cfg.CoalesceStability
	sc.Coalesce.MaxBuffered = cfg.CoalesceMaxBuffered
	sc.EventBus.SubscriberQueueCap = cfg.SubscriberQueueCap
	sc.EventBus.CallbackBudget = cfg.CallbackBudget()
	sc.PathStyle = parsePathStyle(cfg.PathStyle)
	return sc
}

func parseDiffMode(s string) differ.Mode {
	if s == "Conservative" {
		return differ.Conservative
	}
	return differ.Smart
}

func parsePathStyle(s string) path.Style {
	switch s {
	case "slash":
		return path.StyleSlash
	case "bracket":
		return path.StyleBracket
	default:
		return path.StyleDot
	}
}

// CreateSession opens a new streaming session. An empty id gets a fresh
// uuid.
func (c *Core) CreateSession(ctx context.Context, id string, opts ...session.Option) (*Session, error) {
	sess, err := c.manager.Create(ctx, id, opts...)
	if err != nil {
		return nil, err
	}
	return &Session{sess: sess, style: parsePathStyle(c.cfg.PathStyle)}, nil
}

// Session looks up an existing session by id.
func (c *Core) Session(id string) (*Session, bool) {
	sess, ok := c.manager.Get(id)
	if !ok {
		return nil, false
	}
	return &Session{sess: sess, style: parsePathStyle(c.cfg.PathStyle)}, true
}

// Ingest appends chunk to session id and runs the pipeline (parse, diff,
// coalesce, publish).
func (c *Core) Ingest(ctx context.Context, id string, chunk []byte, isFinal bool) (session.ProgressReport, error) {
	return c.manager.Ingest(ctx, id, chunk, isFinal)
}

// Finalize completes session id's stream.
func (c *Core) Finalize(ctx context.Context, id string) (completer.Result, error) {
	return c.manager.Finalize(ctx, id)
}

// CloseSession tears down session id immediately.
func (c *Core) CloseSession(id string) error {
	return c.manager.Close(id)
}

// Subscribe registers callback on session id's event bus; raw DeltaEvent
// subscribers get the canonical path.Path form here, while
// Session.SubscribeWire pre-renders the path using the Core's configured
// path style.
func (c *Core) Subscribe(id string, filter eventbus.Filter, callback eventbus.Callback) (eventbus.Subscription, error) {
	return c.manager.Subscribe(id, filter, callback)
}

// Shutdown stops the TTL sweep and closes every live session.
func (c *Core) Shutdown() error {
	return c.manager.Shutdown()
}

// Session is a handle to one streaming document's pipeline.
type Session struct {
	sess  *session.Session
	style path.Style
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.sess.ID }

// Tree returns a snapshot of the session's current committed value.
func (s *Session) Tree() tree.Value { return s.sess.Tree() }

// SubscribeWire registers callback with events pre-rendered to their
// wire shape (spec §6), convenient for an HTTP/WebSocket edge.
func (s *Session) SubscribeWire(filter eventbus.Filter, callback func(event.Wire)) eventbus.Subscription {
	return s.sess.Subscribe(filter, func(e event.DeltaEvent) {
		callback(event.ToWire(e, s.style))
	})
}
