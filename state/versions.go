package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/types"
)

// StateVersion is one immutable entry in the in-memory version ledger.
// The ledger is a lineage separate from the durable checkpoint chain.
type StateVersion struct {
	VersionID       string      `json:"version_id"`
	StateSnapshot   types.State `json:"state_snapshot"`
	Description     string      `json:"description,omitempty"`
	ParentVersionID string      `json:"parent_version_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// VersionStore is an append-only ledger of resolved state snapshots.
// Versions are immutable once created; no delete is exposed — retention
// is an external housekeeping concern.
type VersionStore struct {
	mu       sync.RWMutex
	versions map[string]*StateVersion
	order    []string // creation order, oldest first
	counter  uint64
	logger   *zap.Logger
}

// NewVersionStore creates an empty version ledger.
func NewVersionStore(logger *zap.Logger) *VersionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VersionStore{
		versions: make(map[string]*StateVersion),
		logger:   logger.With(zap.String("component", "version_store")),
	}
}

// CreateVersion records an immutable snapshot of state and returns its id.
//
// The id combines a content hash with a monotonic counter, so two
// identical states versioned concurrently still get distinct ids.
func (vs *VersionStore) CreateVersion(state types.State, description string) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", types.NewStorageError(types.ErrStorageSerialization, "failed to hash state", err)
	}
	sum := sha256.Sum256(data)

	vs.mu.Lock()
	defer vs.mu.Unlock()

	vs.counter++
	id := fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:])[:12], vs.counter)

	var parent string
	if n := len(vs.order); n > 0 {
		parent = vs.order[n-1]
	}

	vs.versions[id] = &StateVersion{
		VersionID:       id,
		StateSnapshot:   types.DeepCopyState(state),
		Description:     description,
		ParentVersionID: parent,
		CreatedAt:       time.Now(),
	}
	vs.order = append(vs.order, id)

	vs.logger.Debug("state version created",
		zap.String("version_id", id),
		zap.String("parent_version_id", parent),
	)

	return id, nil
}

// GetVersion returns the version with the given id.
// The snapshot is deep-copied out so callers cannot mutate the ledger.
func (vs *VersionStore) GetVersion(id string) (*StateVersion, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	v, ok := vs.versions[id]
	if !ok {
		return nil, types.NewNotFoundError("state version", id)
	}
	return copyVersion(v), nil
}

// ListVersions returns up to limit versions, newest first.
// A non-positive limit returns all versions.
func (vs *VersionStore) ListVersions(limit int) []*StateVersion {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	n := len(vs.order)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]*StateVersion, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, copyVersion(vs.versions[vs.order[i]]))
	}
	return out
}

// LatestVersion returns the most recently created version, or nil.
func (vs *VersionStore) LatestVersion() *StateVersion {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if len(vs.order) == 0 {
		return nil
	}
	return copyVersion(vs.versions[vs.order[len(vs.order)-1]])
}

// Len returns the number of versions in the ledger.
func (vs *VersionStore) Len() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.order)
}

func copyVersion(v *StateVersion) *StateVersion {
	out := *v
	out.StateSnapshot = types.DeepCopyState(v.StateSnapshot)
	return &out
}
