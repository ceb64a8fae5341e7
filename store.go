package sagaorch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tidwall/btree"
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 100

// Store holds saga instances keyed by transaction id.
//
// Instances are written once at creation and then mutated in place through
// Update. Implementations must be safe for concurrent use, and Get must never
// expose a partially applied Update.
type Store interface {
	// Create stores a new instance. It fails with ErrDuplicate if the
	// transaction id is already in use.
	Create(ctx context.Context, inst *Instance) error

	// Get returns a snapshot of the instance, or ErrNotFound.
	Get(ctx context.Context, txID string) (*Instance, error)

	// Update applies fn to the stored instance atomically. If fn returns an
	// error the stored instance is left unchanged.
	Update(ctx context.Context, txID string, fn func(*Instance) error) error

	// List returns up to limit snapshots in creation order, starting after
	// the instance with transaction id after (or from the beginning when
	// after is empty).
	List(ctx context.Context, after string, limit int) ([]*Instance, error)
}

type memoryEntry struct {
	mu   sync.RWMutex
	inst *Instance
	key  listKey
}

type listKey struct {
	createdAt time.Time
	txID      string
}

func lessListKey(a, b listKey) bool {
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.txID < b.txID
}

// MemoryStore is a process-lifetime Store. Instances are never evicted.
type MemoryStore struct {
	entries *xsync.MapOf[string, *memoryEntry]
	index   *btree.BTreeG[listKey]
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: xsync.NewMapOf[string, *memoryEntry](),
		index:   btree.NewBTreeG[listKey](lessListKey),
	}
}

// Create stores a copy of inst.
func (m *MemoryStore) Create(_ context.Context, inst *Instance) error {
	if inst == nil || inst.TransactionID == "" {
		return fmt.Errorf("instance has no transaction id")
	}

	entry := &memoryEntry{
		inst: inst.Clone(),
		key:  listKey{createdAt: inst.CreatedAt, txID: inst.TransactionID},
	}
	if _, loaded := m.entries.LoadOrStore(inst.TransactionID, entry); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicate, inst.TransactionID)
	}
	m.index.Set(entry.key)
	return nil
}

// Get returns a copy of the stored instance.
func (m *MemoryStore) Get(_ context.Context, txID string) (*Instance, error) {
	entry, ok := m.entries.Load(txID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, txID)
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.inst.Clone(), nil
}

// Update runs fn against a working copy and swaps it in on success.
func (m *MemoryStore) Update(_ context.Context, txID string, fn func(*Instance) error) error {
	entry, ok := m.entries.Load(txID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, txID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	work := entry.inst.Clone()
	if err := fn(work); err != nil {
		return err
	}
	entry.inst = work
	return nil
}

// List pages through instances in creation order.
func (m *MemoryStore) List(_ context.Context, after string, limit int) ([]*Instance, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	keys := make([]listKey, 0, limit)
	collect := func(k listKey) bool {
		if after != "" && k.txID == after {
			return true
		}
		keys = append(keys, k)
		return len(keys) < limit
	}

	if after == "" {
		m.index.Scan(collect)
	} else {
		marker, ok := m.entries.Load(after)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, after)
		}
		m.index.Ascend(marker.key, collect)
	}

	out := make([]*Instance, 0, len(keys))
	for _, k := range keys {
		entry, ok := m.entries.Load(k.txID)
		if !ok {
			continue
		}
		entry.mu.RLock()
		out = append(out, entry.inst.Clone())
		entry.mu.RUnlock()
	}
	return out, nil
}

// Len returns the number of stored instances.
func (m *MemoryStore) Len() int {
	return m.entries.Size()
}
