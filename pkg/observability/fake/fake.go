// Package fake provides an in-memory observability provider that records
// every log entry, span and metric data point for later assertions.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

type Provider struct {
	tracer  *FakeTracer
	logger  *FakeLogger
	metrics *FakeMetrics
}

func NewProvider() *Provider {
	return &Provider{
		tracer:  NewFakeTracer(),
		logger:  NewFakeLogger(),
		metrics: NewFakeMetrics(),
	}
}

func (p *Provider) Tracer() observability.Tracer   { return p.tracer }
func (p *Provider) Logger() observability.Logger   { return p.logger }
func (p *Provider) Metrics() observability.Metrics { return p.metrics }

// FakeTracer returns the concrete tracer for assertions.
func (p *Provider) FakeTracer() *FakeTracer { return p.tracer }

// FakeLogger returns the concrete logger for assertions.
func (p *Provider) FakeLogger() *FakeLogger { return p.logger }

// FakeMetrics returns the concrete metrics recorder for assertions.
func (p *Provider) FakeMetrics() *FakeMetrics { return p.metrics }

type FakeTracer struct {
	mu    sync.RWMutex
	spans []*FakeSpan
}

func NewFakeTracer() *FakeTracer { return &FakeTracer{} }

type spanKey struct{}

func (t *FakeTracer) Start(ctx context.Context, spanName string, opts ...observability.SpanOption) (context.Context, observability.Span) {
	cfg := observability.NewSpanConfig(opts)
	span := &FakeSpan{
		Name:       spanName,
		Kind:       cfg.Kind,
		StartTime:  time.Now(),
		Attributes: cfg.Attributes,
	}

	t.mu.Lock()
	t.spans = append(t.spans, span)
	t.mu.Unlock()

	return context.WithValue(ctx, spanKey{}, span), span
}

func (t *FakeTracer) SpanFromContext(ctx context.Context) observability.Span {
	if span, ok := ctx.Value(spanKey{}).(*FakeSpan); ok {
		return span
	}
	return &FakeSpan{}
}

func (t *FakeTracer) ContextWithSpan(ctx context.Context, span observability.Span) context.Context {
	return context.WithValue(ctx, spanKey{}, span)
}

// GetSpans returns a snapshot of every span started so far.
func (t *FakeTracer) GetSpans() []*FakeSpan {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*FakeSpan(nil), t.spans...)
}

// FindSpan returns the first span with the given name, or nil.
func (t *FakeTracer) FindSpan(name string) *FakeSpan {
	for _, span := range t.GetSpans() {
		if span.Name == name {
			return span
		}
	}
	return nil
}

func (t *FakeTracer) Reset() {
	t.mu.Lock()
	t.spans = nil
	t.mu.Unlock()
}

type FakeSpan struct {
	mu          sync.RWMutex
	Name        string
	Kind        observability.SpanKind
	StartTime   time.Time
	EndTime     *time.Time
	Attributes  []observability.Field
	Events      []FakeEvent
	Status      observability.StatusCode
	StatusDesc  string
	RecordedErr error
}

type FakeEvent struct {
	Name   string
	Fields []observability.Field
}

func (s *FakeSpan) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
}

func (s *FakeSpan) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.EndTime != nil
}

func (s *FakeSpan) SetAttributes(fields ...observability.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attributes = append(s.Attributes, fields...)
}

func (s *FakeSpan) SetStatus(code observability.StatusCode, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status, s.StatusDesc = code, description
}

func (s *FakeSpan) RecordError(err error, fields ...observability.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecordedErr = err
	s.Attributes = append(s.Attributes, fields...)
}

func (s *FakeSpan) AddEvent(name string, fields ...observability.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, FakeEvent{Name: name, Fields: fields})
}

func (s *FakeSpan) Context() observability.SpanContext { return fakeSpanContext{} }

type fakeSpanContext struct{}

func (fakeSpanContext) TraceID() string { return "fake-trace-id" }
func (fakeSpanContext) SpanID() string  { return "fake-span-id" }
func (fakeSpanContext) IsSampled() bool { return true }

// LogEntry is one captured record. Fields holds the logger's own fields,
// then the fields bound to the context, then the call-site fields.
type LogEntry struct {
	Level     observability.LogLevel
	Message   string
	Fields    []observability.Field
	Timestamp time.Time
}

// Field returns the value of the last field named key.
func (e LogEntry) Field(key string) (any, bool) {
	for i := len(e.Fields) - 1; i >= 0; i-- {
		if e.Fields[i].Key == key {
			return e.Fields[i].Value, true
		}
	}
	return nil, false
}

type logSink struct {
	mu      sync.RWMutex
	entries []LogEntry
}

type FakeLogger struct {
	sink   *logSink
	fields []observability.Field
}

func NewFakeLogger() *FakeLogger { return &FakeLogger{sink: &logSink{}} }

func (l *FakeLogger) record(ctx context.Context, level observability.LogLevel, msg string, fields []observability.Field) {
	all := observability.Merge(l.fields, observability.FieldsFromContext(ctx)...)
	all = append(all, fields...)

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = append(l.sink.entries, LogEntry{
		Level:     level,
		Message:   msg,
		Fields:    all,
		Timestamp: time.Now(),
	})
}

func (l *FakeLogger) Debug(ctx context.Context, msg string, fields ...observability.Field) {
	l.record(ctx, observability.LogLevelDebug, msg, fields)
}

func (l *FakeLogger) Info(ctx context.Context, msg string, fields ...observability.Field) {
	l.record(ctx, observability.LogLevelInfo, msg, fields)
}

func (l *FakeLogger) Warn(ctx context.Context, msg string, fields ...observability.Field) {
	l.record(ctx, observability.LogLevelWarn, msg, fields)
}

func (l *FakeLogger) Error(ctx context.Context, msg string, fields ...observability.Field) {
	l.record(ctx, observability.LogLevelError, msg, fields)
}

// With shares the parent's sink, so entries from child loggers show up in
// the parent's GetEntries.
func (l *FakeLogger) With(fields ...observability.Field) observability.Logger {
	return &FakeLogger{sink: l.sink, fields: observability.Merge(l.fields, fields...)}
}

func (l *FakeLogger) GetEntries() []LogEntry {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	return append([]LogEntry(nil), l.sink.entries...)
}

// EntriesWithMessage returns the captured entries whose message is msg.
func (l *FakeLogger) EntriesWithMessage(msg string) []LogEntry {
	var out []LogEntry
	for _, e := range l.GetEntries() {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

// EntriesAtLevel returns the captured entries logged at level.
func (l *FakeLogger) EntriesAtLevel(level observability.LogLevel) []LogEntry {
	var out []LogEntry
	for _, e := range l.GetEntries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func (l *FakeLogger) Reset() {
	l.sink.mu.Lock()
	l.sink.entries = nil
	l.sink.mu.Unlock()
}

type FakeMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*FakeCounter
	histograms map[string]*FakeHistogram
	upDowns    map[string]*FakeCounter
	gauges     map[string]observability.GaugeCallback
}

func NewFakeMetrics() *FakeMetrics {
	return &FakeMetrics{
		counters:   make(map[string]*FakeCounter),
		histograms: make(map[string]*FakeHistogram),
		upDowns:    make(map[string]*FakeCounter),
		gauges:     make(map[string]observability.GaugeCallback),
	}
}

func (m *FakeMetrics) Counter(name, _, _ string) observability.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c := &FakeCounter{Name: name}
	m.counters[name] = c
	return c
}

func (m *FakeMetrics) Histogram(name, _, _ string) observability.Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h := &FakeHistogram{Name: name}
	m.histograms[name] = h
	return h
}

func (m *FakeMetrics) UpDownCounter(name, _, _ string) observability.UpDownCounter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.upDowns[name]; ok {
		return u
	}
	u := &FakeCounter{Name: name}
	m.upDowns[name] = u
	return u
}

func (m *FakeMetrics) Gauge(name, _, _ string, callback observability.GaugeCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = callback
	return nil
}

func (m *FakeMetrics) GetCounter(name string) *FakeCounter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

func (m *FakeMetrics) GetHistogram(name string) *FakeHistogram {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.histograms[name]
}

func (m *FakeMetrics) GetUpDownCounter(name string) *FakeCounter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upDowns[name]
}

// ObserveGauge invokes the callback registered under name. The second
// return value is false when no such gauge exists.
func (m *FakeMetrics) ObserveGauge(ctx context.Context, name string) (float64, bool) {
	m.mu.RLock()
	cb, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return cb(ctx), true
}

// FakeCounter backs both counters and up-down counters.
type FakeCounter struct {
	mu     sync.RWMutex
	Name   string
	values []CounterValue
}

type CounterValue struct {
	Value  int64
	Fields []observability.Field
}

func (c *FakeCounter) Add(_ context.Context, value int64, fields ...observability.Field) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, CounterValue{Value: value, Fields: fields})
}

func (c *FakeCounter) Increment(ctx context.Context, fields ...observability.Field) {
	c.Add(ctx, 1, fields...)
}

func (c *FakeCounter) GetValues() []CounterValue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CounterValue(nil), c.values...)
}

// Total sums every recorded value. A nil counter totals zero, which keeps
// assertions on never-touched instruments short.
func (c *FakeCounter) Total() int64 {
	if c == nil {
		return 0
	}
	var total int64
	for _, v := range c.GetValues() {
		total += v.Value
	}
	return total
}

type FakeHistogram struct {
	mu     sync.RWMutex
	Name   string
	values []float64
}

func (h *FakeHistogram) Record(_ context.Context, value float64, _ ...observability.Field) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, value)
}

func (h *FakeHistogram) GetValues() []float64 {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]float64(nil), h.values...)
}
