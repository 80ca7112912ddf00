package archive

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("object not found")

// ObjectInfo is a listed object.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// ObjectStore is the minimal blob API the archive needs.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error
}

type memObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// MemoryStore is an in-process ObjectStore.
type MemoryStore struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	objects map[string]memObject
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{clock: clock, objects: make(map[string]memObject)}
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ObjectInfo
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, LastModified: o.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), o.body...), nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{
		body:        append([]byte(nil), body...),
		contentType: contentType,
		metadata:    meta,
		modified:    m.clock.Now(),
	}
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Metadata returns the content type and metadata stored with key.
func (m *MemoryStore) Metadata(key string) (string, map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return "", nil, false
	}
	return o.contentType, o.metadata, true
}
