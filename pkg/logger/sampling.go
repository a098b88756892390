package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SamplingConfig configures log sampling behavior.
type SamplingConfig struct {
	Enabled bool

	// Tick is the window after which counters reset.
	Tick time.Duration

	// Threshold is the number of identical records always emitted per tick.
	Threshold uint64

	// Rate is the fraction of records kept once Threshold is exceeded.
	Rate float64

	// ErrorRate replaces Rate for warn and error records.
	ErrorRate float64

	// MaxCounterSize bounds the number of distinct message keys tracked.
	MaxCounterSize int

	// NeverSampleMessages are message prefixes that always pass.
	NeverSampleMessages []string

	// OnDropped is invoked for every dropped record.
	OnDropped func(ctx context.Context, record slog.Record)

	// EnableMetrics exports processed/dropped counters to Prometheus.
	EnableMetrics bool
}

const (
	DefaultSamplingTick           = time.Second
	DefaultSamplingThreshold      = 100
	DefaultSamplingMaxCounterSize = 10000
)

// samplingState is shared between a handler and the handlers derived from it
// with WithAttrs/WithGroup, so component loggers count against one budget.
type samplingState struct {
	counters    sync.Map // map[string]*atomic.Uint64
	counterSize atomic.Int64
	lastReset   atomic.Int64
}

type samplingHandler struct {
	handler slog.Handler
	config  SamplingConfig
	state   *samplingState
}

// NewSamplingHandler wraps h so that, per tick, the first Threshold records
// with the same level and message pass and the rest are kept at Rate.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}

	if cfg.Tick == 0 {
		cfg.Tick = DefaultSamplingTick
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultSamplingThreshold
	}
	if cfg.MaxCounterSize == 0 {
		cfg.MaxCounterSize = DefaultSamplingMaxCounterSize
	}

	state := &samplingState{}
	state.lastReset.Store(time.Now().UnixNano())

	return &samplingHandler{handler: h, config: cfg, state: state}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.config.EnableMetrics {
		MetricsOnProcessed(r.Level)
	}

	if h.neverSample(r.Message) {
		return h.handler.Handle(ctx, r)
	}

	h.maybeReset()

	if h.state.counterSize.Load() >= int64(h.config.MaxCounterSize) {
		return h.handler.Handle(ctx, r)
	}

	key := r.Level.String() + ":" + r.Message
	val, loaded := h.state.counters.LoadOrStore(key, new(atomic.Uint64))
	if !loaded {
		h.state.counterSize.Add(1)
	}
	count := val.(*atomic.Uint64).Add(1)

	if count <= h.config.Threshold {
		return h.handler.Handle(ctx, r)
	}

	rate := h.config.Rate
	if r.Level >= slog.LevelWarn {
		rate = h.config.ErrorRate
	}
	if keep(count, rate) {
		return h.handler.Handle(ctx, r)
	}

	h.dropped(ctx, r)
	return nil
}

func (h *samplingHandler) neverSample(message string) bool {
	for _, prefix := range h.config.NeverSampleMessages {
		if strings.HasPrefix(message, prefix) {
			return true
		}
	}
	return false
}

func (h *samplingHandler) dropped(ctx context.Context, r slog.Record) {
	if h.config.EnableMetrics {
		logsDroppedTotal.WithLabelValues(levelToString(r.Level)).Inc()
	}
	if h.config.OnDropped == nil {
		return
	}
	defer func() { _ = recover() }()
	h.config.OnDropped(ctx, r)
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{handler: h.handler.WithAttrs(attrs), config: h.config, state: h.state}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{handler: h.handler.WithGroup(name), config: h.config, state: h.state}
}

// keep is deterministic so replicas sample the same positions.
func keep(count uint64, rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	interval := uint64(1.0 / rate)
	return count%interval == 0
}

func (h *samplingHandler) maybeReset() {
	now := time.Now().UnixNano()
	last := h.state.lastReset.Load()
	if now-last < h.config.Tick.Nanoseconds() {
		return
	}
	if !h.state.lastReset.CompareAndSwap(last, now) {
		return
	}
	h.state.counters.Range(func(key, _ any) bool {
		h.state.counters.Delete(key)
		return true
	})
	h.state.counterSize.Store(0)
	if h.config.EnableMetrics {
		SetSamplingCounterSize(0)
	}
}
