package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Format selects the handler's output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type config struct {
	level      slog.Level
	format     Format
	output     io.Writer
	attrs      []slog.Attr
	extractors []ContextExtractor
}

// Option configures logger creation.
type Option func(*config)

// WithLevel sets the minimum level, defaulting to slog.LevelInfo.
func WithLevel(l slog.Level) Option {
	return func(c *config) { c.level = l }
}

// WithFormat selects json or text output, defaulting to json.
func WithFormat(f Format) Option {
	return func(c *config) { c.format = f }
}

// WithOutput redirects log output, defaulting to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithAttrs attaches default attributes to every record.
func WithAttrs(attrs ...slog.Attr) Option {
	return func(c *config) { c.attrs = append(c.attrs, attrs...) }
}

// WithContextExtractor registers a callback that pulls an attribute out of
// the context on each log call.
func WithContextExtractor(ex ContextExtractor) Option {
	return func(c *config) {
		if ex != nil {
			c.extractors = append(c.extractors, ex)
		}
	}
}

// New creates a configured *slog.Logger.
func New(opts ...Option) *slog.Logger {
	cfg := config{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}
	var handler slog.Handler
	if cfg.format == FormatText {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	}
	if len(cfg.attrs) > 0 {
		handler = handler.WithAttrs(cfg.attrs)
	}
	if len(cfg.extractors) > 0 {
		handler = &contextHandler{next: handler, extractors: cfg.extractors}
	}
	return slog.New(handler)
}

// EnvConfig is the environment shape read by NewFromEnv.
type EnvConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// NewFromEnv creates a logger configured from LOG_LEVEL and LOG_FORMAT.
// Unrecognized values are an error rather than a silent fallback.
func NewFromEnv(opts ...Option) (*slog.Logger, error) {
	cfg, err := env.ParseAs[EnvConfig]()
	if err != nil {
		return nil, fmt.Errorf("logger env config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Level, err)
	}

	var format Format
	switch strings.ToLower(cfg.Format) {
	case string(FormatJSON):
		format = FormatJSON
	case string(FormatText):
		format = FormatText
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: must be %q or %q", cfg.Format, FormatJSON, FormatText)
	}

	return New(append([]Option{WithLevel(level), WithFormat(format)}, opts...)...), nil
}

// ContextExtractor pulls an attribute out of a context. Returning false
// skips the attribute for that record.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// contextHandler decorates a slog.Handler with per-record context
// extraction, so request-scoped values are read at log time.
type contextHandler struct {
	next       slog.Handler
	extractors []ContextExtractor
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	for _, ex := range h.extractors {
		if attr, ok := ex(ctx); ok {
			rec.AddAttrs(attr)
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs), extractors: h.extractors}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name), extractors: h.extractors}
}
