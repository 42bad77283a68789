// Package registry holds the list of known exchanges, their per-exchange
// display and log options, and each exchange's selection state.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/epalmerini/burrow/internal/config"
	"github.com/google/uuid"
)

var (
	ErrUnknownExchange   = errors.New("unknown exchange")
	ErrIllegalTransition = errors.New("illegal selection state transition")
)

// State is the selection state of one exchange.
type State int

const (
	Unselected State = iota
	PendingSubscription
	Subscribed
)

func (s State) String() string {
	switch s {
	case Unselected:
		return "Unselected"
	case PendingSubscription:
		return "PendingSubscription"
	case Subscribed:
		return "Subscribed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CanTransition reports whether s -> to is one of the legal edges:
// Unselected->Pending, Pending->Subscribed, Pending->Unselected, Subscribed->Unselected.
func (s State) CanTransition(to State) bool {
	switch s {
	case Unselected:
		return to == PendingSubscription
	case PendingSubscription:
		return to == Subscribed || to == Unselected
	case Subscribed:
		return to == Unselected
	}
	return false
}

// Kind is an AMQP exchange type.
type Kind string

const (
	Direct  Kind = "direct"
	Fanout  Kind = "fanout"
	Topic   Kind = "topic"
	Headers Kind = "headers"
)

// Kinds lists the exchange kinds in display order.
var Kinds = []Kind{Direct, Fanout, Topic, Headers}

// ParseKind accepts any casing ("Topic", "topic"). Unknown values fall back to direct.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Fanout:
		return Fanout
	case Topic:
		return Topic
	case Headers:
		return Headers
	default:
		return Direct
	}
}

// Exchange is one toggleable exchange subscription.
type Exchange struct {
	ID          uuid.UUID
	Name        string
	Kind        Kind
	RoutingKey  string
	Alias       string
	Pretty      bool
	LogFile     string
	PublishFile string
	ProtoType   string
	State       State
}

// DisplayName is the alias when set, the exchange name otherwise.
func (e Exchange) DisplayName() string {
	if e.Alias != "" {
		return e.Alias
	}
	return e.Name
}

// Registry is the in-memory exchange list. It is not safe for concurrent use;
// the ingest consumer and the UI run on the same goroutine.
type Registry struct {
	items []*Exchange
	byID  map[uuid.UUID]*Exchange
}

// New builds a registry from the config entries. Every entry gets a fresh ID
// and starts Unselected.
func New(entries []config.Exchange) *Registry {
	r := &Registry{byID: make(map[uuid.UUID]*Exchange, len(entries))}
	for _, e := range entries {
		r.Add(FromConfig(e))
	}
	return r
}

// FromConfig converts a stored entry into an Exchange with a new ID.
func FromConfig(e config.Exchange) Exchange {
	return Exchange{
		ID:          uuid.New(),
		Name:        e.Name,
		Kind:        ParseKind(e.Type),
		RoutingKey:  e.RoutingKey,
		Alias:       e.Alias,
		Pretty:      e.Pretty,
		LogFile:     e.LogFile,
		PublishFile: e.PublishFile,
		ProtoType:   e.ProtoType,
		State:       Unselected,
	}
}

// Add appends an exchange and returns its ID.
func (r *Registry) Add(e Exchange) uuid.UUID {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	item := e
	r.items = append(r.items, &item)
	r.byID[item.ID] = &item
	return item.ID
}

// Get returns the exchange with the given ID.
func (r *Registry) Get(id uuid.UUID) (*Exchange, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// Len returns the number of exchanges.
func (r *Registry) Len() int { return len(r.items) }

// All returns the exchanges in config order.
func (r *Registry) All() []*Exchange {
	out := make([]*Exchange, len(r.items))
	copy(out, r.items)
	return out
}

// Filter returns the exchanges whose display name contains query
// (case-insensitive), sorted by display name.
func (r *Registry) Filter(query string) []*Exchange {
	q := strings.ToLower(query)
	var out []*Exchange
	for _, e := range r.items {
		if strings.Contains(strings.ToLower(e.DisplayName()), q) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayName() < out[j].DisplayName()
	})
	return out
}

// SetState moves an exchange to a new selection state, rejecting illegal edges.
// Setting the current state again is a no-op.
func (r *Registry) SetState(id uuid.UUID, to State) error {
	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, id)
	}
	if e.State == to {
		return nil
	}
	if !e.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, e.State, to)
	}
	e.State = to
	return nil
}

// MarkDelivered applies the Pending->Subscribed edge on first delivery.
// It reports whether the state changed.
func (r *Registry) MarkDelivered(id uuid.UUID) bool {
	e, ok := r.byID[id]
	if !ok || e.State != PendingSubscription {
		return false
	}
	e.State = Subscribed
	return true
}

// Replace overwrites the options of an existing exchange, keeping its ID and
// selection state.
func (r *Registry) Replace(edited Exchange) error {
	e, ok := r.byID[edited.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExchange, edited.ID)
	}
	state := e.State
	*e = edited
	e.State = state
	return nil
}

// Entries converts the registry back to config entries for saving.
// Selection state is not persisted.
func (r *Registry) Entries() []config.Exchange {
	out := make([]config.Exchange, 0, len(r.items))
	for _, e := range r.items {
		out = append(out, config.Exchange{
			Name:        e.Name,
			Type:        string(e.Kind),
			RoutingKey:  e.RoutingKey,
			Alias:       e.Alias,
			Pretty:      e.Pretty,
			LogFile:     e.LogFile,
			PublishFile: e.PublishFile,
			ProtoType:   e.ProtoType,
		})
	}
	return out
}
