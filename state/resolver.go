package state

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/types"
)

// Strategy selects the policy used to pick or merge conflicting values.
type Strategy string

const (
	// LastWriteWins lets the new value win unconditionally.
	LastWriteWins Strategy = "last_write_wins"
	// FirstWriteWins keeps the old value for every conflicting field.
	FirstWriteWins Strategy = "first_write_wins"
	// MergeChanges applies additions/deletions directly and merges map
	// values recursively; non-map value changes fall back to
	// LastWriteWins but are reported as unresolved for caller visibility.
	MergeChanges Strategy = "merge_changes"
	// Custom delegates each conflict to a caller-supplied callback.
	Custom Strategy = "custom"
)

// CustomFunc resolves a single conflict. Returning an error (or
// panicking) marks the conflict unresolved without aborting the batch.
type CustomFunc func(old, new types.State, conflict FieldConflict) (any, error)

// ResolutionRecord is an audit entry for one processed conflict.
// Audit trail only, never authoritative state.
type ResolutionRecord struct {
	Conflict      FieldConflict `json:"conflict"`
	Strategy      Strategy      `json:"strategy_applied"`
	ResolvedValue any           `json:"resolved_value,omitempty"`
	Resolved      bool          `json:"resolved"`
	ResolvedAt    time.Time     `json:"resolved_at"`
}

// resolutionFunc applies one strategy to one conflict against the
// working resolved state. It reports whether the conflict counts as
// resolved and the value recorded for auditing.
type resolutionFunc func(r *Resolver, old, new, resolved types.State, c FieldConflict) (value any, ok bool)

// strategyTable dispatches strategy tags to resolution functions. It is
// populated in init to avoid an initialization cycle through Resolve.
var strategyTable map[Strategy]resolutionFunc

func init() {
	strategyTable = map[Strategy]resolutionFunc{
		LastWriteWins:  (*Resolver).resolveLastWrite,
		FirstWriteWins: (*Resolver).resolveFirstWrite,
		MergeChanges:   (*Resolver).resolveMerge,
		Custom:         (*Resolver).resolveCustom,
	}
}

// DefaultHistoryCapacity bounds the resolution history ring buffer.
const DefaultHistoryCapacity = 100

// Resolver applies a resolution strategy to detected conflicts and keeps
// a bounded history of every processed conflict for observability.
//
// Resolve itself is pure with respect to its inputs, but the history
// ring buffer is shared mutable state: the resolver is safe for
// concurrent use within one process via an internal mutex.
type Resolver struct {
	strategy Strategy
	custom   CustomFunc
	logger   *zap.Logger

	mu       sync.Mutex
	history  []ResolutionRecord
	capacity int
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCustomFunc sets the callback used by the Custom strategy.
func WithCustomFunc(fn CustomFunc) ResolverOption {
	return func(r *Resolver) {
		r.custom = fn
	}
}

// WithHistoryCapacity overrides the history ring buffer capacity.
func WithHistoryCapacity(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// NewResolver creates a resolver for the given strategy.
func NewResolver(strategy Strategy, logger *zap.Logger, opts ...ResolverOption) (*Resolver, error) {
	if _, ok := strategyTable[strategy]; !ok {
		return nil, types.NewValidationError(fmt.Sprintf("unknown resolution strategy: %s", strategy))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Resolver{
		strategy: strategy,
		logger:   logger.With(zap.String("component", "conflict_resolver")),
		capacity: DefaultHistoryCapacity,
	}
	for _, opt := range opts {
		opt(r)
	}

	if strategy == Custom && r.custom == nil {
		return nil, types.NewValidationError("custom strategy requires a callback")
	}
	return r, nil
}

// Strategy returns the configured strategy tag.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve reconciles new against old for the given conflicts.
//
// The returned state starts as a deep copy of old; neither input is
// mutated. Conflicts the strategy could not settle are returned as
// unresolved data for the caller to decide on.
func (r *Resolver) Resolve(old, new types.State, conflicts []FieldConflict) (types.State, []FieldConflict) {
	resolved := types.DeepCopyState(old)
	if resolved == nil {
		resolved = types.State{}
	}

	var unresolved []FieldConflict
	apply := strategyTable[r.strategy]

	for _, c := range conflicts {
		value, ok := apply(r, old, new, resolved, c)
		if !ok {
			unresolved = append(unresolved, c)
		}
		r.record(c, value, ok)
	}

	if len(conflicts) > 0 {
		r.logger.Debug("conflict batch resolved",
			zap.String("strategy", string(r.strategy)),
			zap.Int("conflicts", len(conflicts)),
			zap.Int("unresolved", len(unresolved)),
		)
	}

	return resolved, unresolved
}

func (r *Resolver) resolveLastWrite(_, _, resolved types.State, c FieldConflict) (any, bool) {
	if c.Type == ConflictDeleted {
		deletePath(resolved, c.FieldPath)
		return nil, true
	}
	setPath(resolved, c.FieldPath, c.NewValue)
	return c.NewValue, true
}

func (r *Resolver) resolveFirstWrite(_, _, resolved types.State, c FieldConflict) (any, bool) {
	// Old value wins: the resolved state already carries it, and fields
	// added only by the new writer stay absent.
	return c.CurrentValue, true
}

func (r *Resolver) resolveMerge(old, new, resolved types.State, c FieldConflict) (any, bool) {
	switch c.Type {
	case ConflictAdded:
		setPath(resolved, c.FieldPath, c.NewValue)
		return c.NewValue, true
	case ConflictDeleted:
		deletePath(resolved, c.FieldPath)
		return nil, true
	case ConflictValueChanged:
		oldMap, oldIsMap := c.CurrentValue.(map[string]any)
		newMap, newIsMap := c.NewValue.(map[string]any)
		if oldIsMap && newIsMap {
			merged, _ := r.Resolve(oldMap, newMap, Diff(oldMap, newMap))
			setPath(resolved, c.FieldPath, merged)
			return merged, true
		}
		// Non-map values (including sequences) cannot be merged: take the
		// new value but surface the conflict to the caller.
		setPath(resolved, c.FieldPath, c.NewValue)
		return c.NewValue, false
	default: // ConflictTypeMismatch
		setPath(resolved, c.FieldPath, c.NewValue)
		return c.NewValue, false
	}
}

func (r *Resolver) resolveCustom(old, new, resolved types.State, c FieldConflict) (value any, ok bool) {
	// A misbehaving callback must not abort the batch.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("custom resolution callback panicked",
				zap.String("field_path", c.FieldPath),
				zap.Any("panic", rec),
			)
			value, ok = nil, false
		}
	}()

	v, err := r.custom(old, new, c)
	if err != nil {
		r.logger.Warn("custom resolution callback failed",
			zap.String("field_path", c.FieldPath),
			zap.Error(err),
		)
		return nil, false
	}

	setPath(resolved, c.FieldPath, v)
	return v, true
}

// record appends one audit entry, evicting the oldest on overflow.
func (r *Resolver) record(c FieldConflict, value any, resolved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.history) >= r.capacity {
		r.history = r.history[1:]
	}
	r.history = append(r.history, ResolutionRecord{
		Conflict:      c,
		Strategy:      r.strategy,
		ResolvedValue: value,
		Resolved:      resolved,
		ResolvedAt:    time.Now(),
	})
}

// History returns a copy of the resolution history, oldest first.
func (r *Resolver) History() []ResolutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ResolutionRecord, len(r.history))
	copy(out, r.history)
	return out
}

// setPath writes value at a dotted path, creating intermediate maps.
func setPath(s types.State, path string, value any) {
	parts := strings.Split(path, ".")
	current := s
	for i, part := range parts {
		if i == len(parts)-1 {
			current[part] = value
			return
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
}

// deletePath removes the value at a dotted path, if present.
func deletePath(s types.State, path string) {
	parts := strings.Split(path, ".")
	current := s
	for i, part := range parts {
		if i == len(parts)-1 {
			delete(current, part)
			return
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
}
