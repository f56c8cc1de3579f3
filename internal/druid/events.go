package druid

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/retry"
	"github.com/MrSnakeDoc/forest/internal/store"
)

// ErrListenerFull is returned by ChanListener when its buffer is full.
var ErrListenerFull = errors.New("listener buffer full")

// ChanListener buffers events for one streaming connection. Put never
// blocks; a slow reader loses events instead of stalling the broker.
type ChanListener struct {
	ch chan domain.Event
}

func NewChanListener(buffer int) *ChanListener {
	return &ChanListener{ch: make(chan domain.Event, buffer)}
}

func (l *ChanListener) Put(ev domain.Event) error {
	select {
	case l.ch <- ev:
		return nil
	default:
		return ErrListenerFull
	}
}

// C is the event stream.
func (l *ChanListener) C() <-chan domain.Event { return l.ch }

func (d *Druid) AddListener(leafID string, l Listener) {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	set, ok := d.listeners[leafID]
	if !ok {
		set = make(map[Listener]struct{})
		d.listeners[leafID] = set
	}
	set[l] = struct{}{}
}

func (d *Druid) RemoveListener(leafID string, l Listener) {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	set := d.listeners[leafID]
	delete(set, l)
	if len(set) == 0 {
		delete(d.listeners, leafID)
	}
}

// PropagateEvent persists ev with bounded retry and hands it to every
// listener of its leaf. Duplicate records are not stored again. Listener
// errors are ignored.
func (d *Druid) PropagateEvent(ctx context.Context, ev domain.Event) {
	// The id is fixed before the first attempt so a retry after a write
	// that landed is reported as a duplicate.
	if ev.String("_id") == "" {
		ev["_id"] = uuid.NewString()
	}
	err := retry.Do(ctx, d.storePolicy, func(ctx context.Context) error {
		_, err := d.store.InsertLog(ctx, ev)
		if errors.Is(err, store.ErrDuplicate) {
			return retry.Permanent(err)
		}
		return err
	})
	switch {
	case errors.Is(err, store.ErrDuplicate):
		d.log.Debug("duplicate event dropped", logger.Component(component), logger.String("id", ev.String("_id")))
	case err != nil:
		d.log.Error("cannot store event", logger.Component(component), logger.Error(err))
	}

	leafID := ev.LogSource()
	d.lmu.RLock()
	targets := make([]Listener, 0, len(d.listeners[leafID]))
	for l := range d.listeners[leafID] {
		targets = append(targets, l)
	}
	d.lmu.RUnlock()

	for _, l := range targets {
		if err := l.Put(ev); err != nil {
			d.log.Debug("listener dropped an event", logger.Component(component),
				logger.String("leaf", leafID), logger.Error(err))
		}
	}
}

// RecentLogs returns the stored history of a leaf, oldest first.
func (d *Druid) RecentLogs(ctx context.Context, leafID string, n int) ([]domain.Event, error) {
	return d.store.RecentLogs(ctx, leafID, n)
}

// Traceback returns a stored traceback record.
func (d *Druid) Traceback(ctx context.Context, id string) (domain.Event, error) {
	ev, err := d.store.Traceback(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("traceback %s: %w", id, err)
	}
	return ev, nil
}
