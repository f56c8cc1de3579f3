package branch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/logger"
)

const (
	TypePOST  = "POSTLogger"
	TypeRedis = "RedisLogger"

	defaultSinkTimeout = 5 * time.Second
)

var (
	ErrLoggerCreation = errors.New("cannot create logger")
	ErrLoggerNotFound = errors.New("logger not found")
)

// LoggerConfig describes one log sink.
type LoggerConfig struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Type       string `json:"type" yaml:"type"`

	// Filters select records whose keys equal every given value.
	Filters map[string]any `json:"filters,omitempty" yaml:"filters"`
	// MaxFailures removes the sink once consecutive failures exceed it.
	// Zero keeps the sink forever.
	MaxFailures int `json:"max_failures,omitempty" yaml:"max_failures"`
	// RedundantKeys are dropped from records before delivery.
	RedundantKeys []string `json:"redundant_keys,omitempty" yaml:"redundant_keys"`

	// POSTLogger
	Address        string            `json:"address,omitempty" yaml:"address"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers"`
	ConnectTimeout float64           `json:"connect_timeout,omitempty" yaml:"connect_timeout"`
	RequestTimeout float64           `json:"request_timeout,omitempty" yaml:"request_timeout"`

	// RedisLogger
	Channel string `json:"channel,omitempty" yaml:"channel"`
}

// Suitable reports whether ev passes every filter.
func (c LoggerConfig) Suitable(ev domain.Event) bool {
	for key, want := range c.Filters {
		got, ok := ev[key]
		if !ok || !sameValue(got, want) {
			return false
		}
	}
	return true
}

// sameValue compares with numbers normalized, so a JSON filter of 500
// matches a parsed status of int 500.
func sameValue(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum != bNum {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return defaultSinkTimeout
	}
	return time.Duration(v * float64(time.Second))
}

// Sink delivers one serialized record.
type Sink interface {
	Send(ctx context.Context, payload []byte) error
}

type postSink struct {
	address string
	headers map[string]string
	client  *http.Client
}

func newPostSink(cfg LoggerConfig) (*postSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("address is required")
	}
	connect := seconds(cfg.ConnectTimeout)
	return &postSink{
		address: cfg.Address,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout: connect + seconds(cfg.RequestTimeout),
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connect}).DialContext,
			},
		},
	}, nil
}

func (s *postSink) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.address, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s answered %d", s.address, resp.StatusCode)
	}
	return nil
}

type redisSink struct {
	rdb     *goredis.Client
	channel string
}

func (s *redisSink) Send(ctx context.Context, payload []byte) error {
	return s.rdb.Publish(ctx, s.channel, payload).Err()
}

type sinkEntry struct {
	cfg      LoggerConfig
	sink     Sink
	failures int
}

// LoggerInfo is the public view of a sink.
type LoggerInfo struct {
	LoggerConfig
	Failures int `json:"failures"`
}

// Loggers is the ordered chain of sinks fed by the branch.
type Loggers struct {
	rdb *goredis.Client
	log logger.Logger

	mu      sync.Mutex
	entries []*sinkEntry
}

func NewLoggers(rdb *goredis.Client, log logger.Logger) *Loggers {
	if log == nil {
		log = logger.Nop()
	}
	return &Loggers{rdb: rdb, log: log}
}

// Add builds and appends a sink.
func (l *Loggers) Add(cfg LoggerConfig) error {
	if cfg.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrLoggerCreation)
	}

	var sink Sink
	switch cfg.Type {
	case TypePOST:
		s, err := newPostSink(cfg)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLoggerCreation, err)
		}
		sink = s
	case TypeRedis:
		if l.rdb == nil {
			return fmt.Errorf("%w: redis is not configured", ErrLoggerCreation)
		}
		if cfg.Channel == "" {
			return fmt.Errorf("%w: channel is required", ErrLoggerCreation)
		}
		sink = &redisSink{rdb: l.rdb, channel: cfg.Channel}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrLoggerCreation, cfg.Type)
	}

	return l.AddSink(cfg, sink)
}

// AddSink appends a prebuilt sink under cfg's identifier.
func (l *Loggers) AddSink(cfg LoggerConfig, sink Sink) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.cfg.Identifier == cfg.Identifier {
			return fmt.Errorf("%w: identifier %q already exists", ErrLoggerCreation, cfg.Identifier)
		}
	}
	l.entries = append(l.entries, &sinkEntry{cfg: cfg, sink: sink})
	l.log.Info(fmt.Sprintf("Logger '%s' added", cfg.Identifier), logger.Component(component))
	return nil
}

// Delete removes a sink by identifier.
func (l *Loggers) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.cfg.Identifier == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrLoggerNotFound, id)
}

// List returns the chain in order.
func (l *Loggers) List() []LoggerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LoggerInfo, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, LoggerInfo{LoggerConfig: e.cfg, Failures: e.failures})
	}
	return out
}

// Dispatch offers ev to every suitable sink concurrently and waits for
// all deliveries. A success resets the failure count; a sink whose count
// exceeds its MaxFailures is removed from the chain.
func (l *Loggers) Dispatch(ctx context.Context, ev domain.Event) {
	l.mu.Lock()
	targets := make([]*sinkEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.cfg.Suitable(ev) {
			targets = append(targets, e)
		}
	}
	l.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, e := range targets {
		g.Go(func() error {
			errs[i] = deliver(ctx, e, ev)
			return nil
		})
	}
	_ = g.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range targets {
		if errs[i] == nil {
			e.failures = 0
			continue
		}
		e.failures++
		l.log.Warn(fmt.Sprintf("Logger '%s' failed", e.cfg.Identifier), logger.Component(component),
			logger.Int("failures", e.failures), logger.Error(errs[i]))
		if e.cfg.MaxFailures > 0 && e.failures > e.cfg.MaxFailures {
			l.removeLocked(e)
			l.log.Warn(fmt.Sprintf("Logger '%s' removed after %d failures", e.cfg.Identifier, e.failures),
				logger.Component(component))
		}
	}
}

func (l *Loggers) removeLocked(target *sinkEntry) {
	for i, e := range l.entries {
		if e == target {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func deliver(ctx context.Context, e *sinkEntry, ev domain.Event) error {
	rec := ev
	if len(e.cfg.RedundantKeys) > 0 {
		rec = ev.Clone()
		for _, k := range e.cfg.RedundantKeys {
			delete(rec, k)
		}
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return e.sink.Send(ctx, payload)
}
