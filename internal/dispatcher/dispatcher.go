package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bzfsd/bzfsd/internal/effect"
	"github.com/bzfsd/bzfsd/internal/protocol"
)

const instrumentationName = "github.com/bzfsd/bzfsd/internal/dispatcher"

var (
	// ErrUnknownOpcode is returned for frames nobody registered for.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrRejected is returned when a guard refuses a frame.
	ErrRejected = errors.New("frame rejected")
	// ErrMalformed wraps body decoding failures.
	ErrMalformed = errors.New("malformed body")
)

// Event is one frame received from a slot.
type Event struct {
	Slot      int
	Code      protocol.Code
	Body      []byte
	UDP       bool
	Timestamp time.Time
	// Effects collects what the handler wants sent or closed.
	Effects *effect.List
}

// HandlerFunc processes one frame.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	guards []func(Event) bool
	logged bool
}

// Guard drops frames for which fn returns false before the handler runs.
func Guard(fn func(Event) bool) Option {
	return func(c *config) {
		c.guards = append(c.guards, fn)
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Route builds a handler that decodes the body before calling handle.
func Route[T any](decode func([]byte) (T, error), handle func(Event, T) error) HandlerFunc {
	return func(e Event) error {
		msg, err := decode(e.Body)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMalformed, e.Code, err)
		}
		return handle(e, msg)
	}
}

// Dispatcher routes frames to registered handlers.
type Dispatcher struct {
	handlers map[protocol.Code]HandlerFunc
	logger   Logger

	handled  metric.Int64Counter
	rejected metric.Int64Counter
	failed   metric.Int64Counter
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[protocol.Code]HandlerFunc),
		logger:   logger,
	}

	m := otel.Meter(instrumentationName)

	var err error

	d.handled, err = m.Int64Counter(
		"dispatcher.frames.handled",
		metric.WithDescription("Total frames handled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating handled counter: %w", err)
	}

	d.rejected, err = m.Int64Counter(
		"dispatcher.frames.rejected",
		metric.WithDescription("Total frames refused by a guard"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.frames.failed",
		metric.WithDescription("Total frames whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given opcode with optional configuration.
func (d *Dispatcher) Register(code protocol.Code, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := d.withMetrics(code, h)

	if len(cfg.guards) > 0 {
		handler = d.withGuards(code, cfg.guards, handler)
	}

	if cfg.logged {
		handler = d.withLogging(code, handler)
	}

	d.handlers[code] = handler
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) error {
	h, ok := d.handlers[e.Code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOpcode, e.Code)
	}
	if e.Effects == nil {
		e.Effects = &effect.List{}
	}
	return h(e)
}

// HasHandler returns true if a handler is registered for the opcode.
func (d *Dispatcher) HasHandler(code protocol.Code) bool {
	_, ok := d.handlers[code]
	return ok
}

func (d *Dispatcher) withMetrics(code protocol.Code, h HandlerFunc) HandlerFunc {
	attrs := metric.WithAttributes(attribute.String("opcode", code.String()))
	return func(e Event) error {
		err := h(e)
		if err != nil {
			d.failed.Add(context.Background(), 1, attrs)
		} else {
			d.handled.Add(context.Background(), 1, attrs)
		}
		return err
	}
}

func (d *Dispatcher) withGuards(code protocol.Code, guards []func(Event) bool, h HandlerFunc) HandlerFunc {
	attrs := metric.WithAttributes(attribute.String("opcode", code.String()))
	return func(e Event) error {
		for _, g := range guards {
			if !g(e) {
				d.rejected.Add(context.Background(), 1, attrs)
				return ErrRejected
			}
		}
		return h(e)
	}
}

func (d *Dispatcher) withLogging(code protocol.Code, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling frame", "opcode", code.String(), "slot", e.Slot, "len", len(e.Body))

		err := h(e)

		if err != nil {
			d.logger.Error("frame failed", "opcode", code.String(), "slot", e.Slot, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("frame complete", "opcode", code.String(), "slot", e.Slot, "duration", time.Since(start))
		}

		return err
	}
}
