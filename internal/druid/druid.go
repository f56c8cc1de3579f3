// Package druid is the cluster broker: it sequences multi host leaf
// operations across Branch, Air and Roots nodes and relays leaf events to
// live watchers.
package druid

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/peer"
	"github.com/MrSnakeDoc/forest/internal/retry"
	"github.com/MrSnakeDoc/forest/internal/store"
)

const component = "Druid"

var (
	ErrDuplicateLeaf    = errors.New("duplicate address")
	ErrDuplicateSpecies = errors.New("duplicate species")
	ErrUnknownSpecies   = errors.New("unknown species")
	ErrUnknownLeaf      = errors.New("unknown leaf")
	ErrUnknownBranch    = errors.New("unknown branch")
	ErrInvalidRequest   = errors.New("invalid request")
)

// Protocol steps reported by StepError.
const (
	StepRoots   = "roots"
	StepAir     = "air"
	StepSpecies = "species"
	StepBranch  = "branch"
)

// StepError reports which step of a multi step operation failed together
// with the raw answer of the failing peer.
type StepError struct {
	Step     string
	Peer     string
	Code     int // 0 when the peer never answered
	Response string
	Err      error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s step failed on %s: %v", e.Step, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s step failed on %s (%d): %s", e.Step, e.Peer, e.Code, e.Response)
}

func (e *StepError) Unwrap() error { return e.Err }

// Store is the persistence the broker needs.
type Store interface {
	SaveLeaf(ctx context.Context, l *domain.Leaf) error
	Leaf(ctx context.Context, id string) (*domain.Leaf, error)
	LeafByName(ctx context.Context, name string) (*domain.Leaf, error)
	FindLeaf(ctx context.Context, name string, addresses []string) (*domain.Leaf, error)
	Leaves(ctx context.Context, f store.LeafFilter) ([]*domain.Leaf, error)

	SaveSpecies(ctx context.Context, sp *domain.Species) error
	Species(ctx context.Context, id string) (*domain.Species, error)
	SpeciesByName(ctx context.Context, name string) (*domain.Species, error)
	ListSpecies(ctx context.Context) ([]*domain.Species, error)

	InsertLog(ctx context.Context, ev domain.Event) (string, error)
	RecentLogs(ctx context.Context, leafID string, n int) ([]domain.Event, error)
	Traceback(ctx context.Context, id string) (domain.Event, error)
}

// Topology lists the peers the broker drives.
type Topology struct {
	Branches []peer.Endpoint `yaml:"branch"`
	Air      []peer.Endpoint `yaml:"air"`
	Roots    []peer.Endpoint `yaml:"roots"`
}

// Listener receives the events of one leaf.
type Listener interface {
	Put(ev domain.Event) error
}

// Druid is the broker. One instance per cluster: the creation lock is
// process local.
type Druid struct {
	topo  Topology
	store Store
	peers *peer.Client
	log   logger.Logger

	now         func() time.Time
	pick        func(n int) int
	storePolicy retry.Policy

	// mu serializes structural changes to the leaf namespace.
	mu sync.Mutex

	lmu       sync.RWMutex
	listeners map[string]map[Listener]struct{} // leaf ID -> listeners
}

func New(topo Topology, st Store, peers *peer.Client, log logger.Logger) *Druid {
	if log == nil {
		log = logger.Nop()
	}
	return &Druid{
		topo:  topo,
		store: st,
		peers: peers,
		log:   log,
		now:   time.Now,
		pick:  rand.IntN,
		storePolicy: retry.Policy{
			Attempts: 5,
			Initial:  200 * time.Millisecond,
			Max:      2 * time.Second,
		},
		listeners: make(map[string]map[Listener]struct{}),
	}
}

// Branches returns the configured branch names.
func (d *Druid) Branches() []string {
	names := make([]string, 0, len(d.topo.Branches))
	for _, b := range d.topo.Branches {
		names = append(names, b.Name)
	}
	return names
}

func (d *Druid) branch(name string) (peer.Endpoint, error) {
	for _, b := range d.topo.Branches {
		if b.Name == name {
			return b, nil
		}
	}
	return peer.Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownBranch, name)
}

// fastrouters lists the subscription servers of every Air node.
func (d *Druid) fastrouters() []string {
	out := make([]string, 0, len(d.topo.Air))
	for _, a := range d.topo.Air {
		out = append(out, a.FastrouterAddr())
	}
	return out
}

// call runs one peer request and turns anything but a 2xx answer into a
// StepError.
func (d *Druid) call(ctx context.Context, step string, ep peer.Endpoint, method, resource string, body any) (*peer.Response, error) {
	resp, err := d.peers.Do(ctx, ep, method, resource, body)
	if err != nil {
		return nil, &StepError{Step: step, Peer: ep.Name, Err: err}
	}
	if !resp.OK() {
		return resp, &StepError{Step: step, Peer: ep.Name, Code: resp.Code, Response: string(resp.Body)}
	}
	return resp, nil
}
