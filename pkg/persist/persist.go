// Package persist stores saved models. A Collection keeps every model as one
// JSON array under a single key of a blob store, so a save, delete or list is
// a single read-modify-write of that blob.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/chazu/stepcraft/pkg/ctxlog"
	"github.com/chazu/stepcraft/pkg/stepgraph"
)

// CollectionKey is the blob key holding the saved-model array.
const CollectionKey = "savedModels"

// ErrNotFound is returned by Load for an unknown model id.
var ErrNotFound = errors.New("saved model not found")

// SavedModel is one entry of the collection.
type SavedModel struct {
	ID          string                 `json:"id" yaml:"id"`
	Title       string                 `json:"title" yaml:"title"`
	Description string                 `json:"description" yaml:"description"`
	Steps       []stepgraph.StepNode   `json:"steps" yaml:"steps"`
	Connections []stepgraph.Connection `json:"connections" yaml:"connections"`
	SavedAt     time.Time              `json:"savedAt" yaml:"savedAt"`
}

// Document returns the graph content of the model.
func (m SavedModel) Document() stepgraph.Document {
	return stepgraph.Document{Steps: m.Steps, Connections: m.Connections}
}

// Gateway is the read/write contract for saved models.
type Gateway interface {
	// Save appends m under a freshly generated id and returns the id.
	Save(ctx context.Context, m SavedModel) (string, error)
	// Load returns the model with the given id or ErrNotFound.
	Load(ctx context.Context, id string) (SavedModel, error)
	// Delete removes the model. An unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// List returns every saved model in save order.
	List(ctx context.Context) ([]SavedModel, error)
}

// KV is a durable key-value blob store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Collection implements Gateway over a KV.
type Collection struct {
	kv    KV
	key   string
	newID func() string
	now   func() time.Time
}

// CollectionOption configures a Collection.
type CollectionOption func(*Collection)

// WithClock replaces time.Now for SavedAt stamps.
func WithClock(now func() time.Time) CollectionOption {
	return func(c *Collection) { c.now = now }
}

// WithModelIDs replaces the id generator.
func WithModelIDs(gen func() string) CollectionOption {
	return func(c *Collection) { c.newID = gen }
}

// NewCollection returns a Gateway backed by kv.
func NewCollection(kv KV, opts ...CollectionOption) *Collection {
	c := &Collection{
		kv:    kv,
		key:   CollectionKey,
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// read loads the collection. A blob that does not decode is reported at
// warn level and treated as empty; the next write replaces it.
func (c *Collection) read(ctx context.Context) ([]SavedModel, error) {
	data, ok, err := c.kv.Get(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.key, err)
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}
	var models []SavedModel
	if err := json.Unmarshal(data, &models); err != nil {
		ctxlog.FromContext(ctx).Warn("saved model collection is corrupt, treating as empty",
			"key", c.key, "bytes", len(data), "error", err)
		return nil, nil
	}
	return models, nil
}

func (c *Collection) write(ctx context.Context, models []SavedModel) error {
	if models == nil {
		models = []SavedModel{}
	}
	data, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.key, err)
	}
	if err := c.kv.Put(ctx, c.key, data); err != nil {
		return fmt.Errorf("write %s: %w", c.key, err)
	}
	return nil
}

func (c *Collection) Save(ctx context.Context, m SavedModel) (string, error) {
	models, err := c.read(ctx)
	if err != nil {
		return "", err
	}
	ids := lo.SliceToMap(models, func(s SavedModel) (string, bool) { return s.ID, true })
	m.ID = c.newID()
	for ids[m.ID] {
		m.ID = c.newID()
	}
	m.SavedAt = c.now().UTC()
	if m.Steps == nil {
		m.Steps = []stepgraph.StepNode{}
	}
	if m.Connections == nil {
		m.Connections = []stepgraph.Connection{}
	}
	if err := c.write(ctx, append(models, m)); err != nil {
		return "", err
	}
	ctxlog.FromContext(ctx).Debug("model saved", "id", m.ID, "title", m.Title, "total", len(models)+1)
	return m.ID, nil
}

func (c *Collection) Load(ctx context.Context, id string) (SavedModel, error) {
	models, err := c.read(ctx)
	if err != nil {
		return SavedModel{}, err
	}
	m, ok := lo.Find(models, func(s SavedModel) bool { return s.ID == id })
	if !ok {
		return SavedModel{}, fmt.Errorf("model %s: %w", id, ErrNotFound)
	}
	return m, nil
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	models, err := c.read(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(slices.Clone(models), func(s SavedModel) bool { return s.ID == id })
	if len(kept) == len(models) {
		return nil
	}
	return c.write(ctx, kept)
}

// List never fails on an unreadable store; it logs and returns no models.
func (c *Collection) List(ctx context.Context) ([]SavedModel, error) {
	models, err := c.read(ctx)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("listing saved models failed", "error", err)
		return []SavedModel{}, nil
	}
	if models == nil {
		models = []SavedModel{}
	}
	return models, nil
}

// Open returns a Collection over the named backend: "sqlite" at path, or
// "memory".
func Open(ctx context.Context, backend, path string, opts ...CollectionOption) (*Collection, error) {
	switch backend {
	case "memory":
		return NewCollection(NewMemory(), opts...), nil
	case "sqlite", "":
		kv, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open saved models at %s: %w", path, err)
		}
		return NewCollection(kv, opts...), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// Close releases the underlying store.
func (c *Collection) Close() error {
	return c.kv.Close()
}

// LogValue keeps slog output small for large models.
func (m SavedModel) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", m.ID),
		slog.String("title", m.Title),
		slog.Int("steps", len(m.Steps)),
	)
}
