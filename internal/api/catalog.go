package api

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/midi-sniffer/backend/internal/logging"
	"github.com/midi-sniffer/backend/internal/metrics"
	"github.com/midi-sniffer/backend/internal/parser"
	"github.com/midi-sniffer/backend/internal/storage"
)

// TableCatalog caches loaded mapping tables by file id. Tables are loaded from
// the store on first use and are read-only afterwards.
type TableCatalog struct {
	mu      sync.RWMutex
	store   storage.Store
	profile *parser.Profile
	metrics *metrics.Metrics
	log     *slog.Logger
	tables  map[string]*parser.Table
}

// NewTableCatalog creates a catalog loading tables from store with profile applied.
func NewTableCatalog(store storage.Store, profile *parser.Profile, m *metrics.Metrics, logger *slog.Logger) *TableCatalog {
	return &TableCatalog{
		store:   store,
		profile: profile,
		metrics: m,
		log:     logging.Component(logger, "catalog"),
		tables:  make(map[string]*parser.Table),
	}
}

// Add registers an already loaded table under id.
func (c *TableCatalog) Add(id string, t *parser.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[id] = t
}

// Load reads the stored file id as a mapping table and caches it, replacing
// any earlier load.
func (c *TableCatalog) Load(id string) (*parser.Table, error) {
	if c.store == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrFileNotFound, id)
	}
	path, err := c.store.GetFilePath(id)
	if err != nil {
		return nil, err
	}

	t, err := parser.LoadTable(path, c.profile)
	if err != nil {
		c.metrics.TableLoaded(nil, err)
		return nil, err
	}
	c.metrics.TableLoaded(t.Diagnostics, nil)

	if info, err := c.store.Get(id); err == nil && info.Name != "" {
		t.Name = info.Name
	}
	c.log.Info("mapping table loaded", "id", shortID(id), "device", t.Device(),
		"keys", t.Index.Len(), "diagnostics", len(t.Diagnostics))

	c.Add(id, t)
	return t, nil
}

// Get returns the cached table for id, loading it from the store if needed.
func (c *TableCatalog) Get(id string) (*parser.Table, error) {
	c.mu.RLock()
	t, ok := c.tables[id]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}
	return c.Load(id)
}

// Remove drops a cached table.
func (c *TableCatalog) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables, id)
}

// Match picks a loaded table for a device or port name.
func (c *TableCatalog) Match(device string) (string, *parser.Table) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.tables))
	for id := range c.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tables := make([]*parser.Table, len(ids))
	for i, id := range ids {
		tables[i] = c.tables[id]
	}

	t := parser.MatchDevice(device, tables)
	if t == nil {
		return "", nil
	}
	for i, candidate := range tables {
		if candidate == t {
			return ids[i], t
		}
	}
	return "", nil
}

// Len returns the number of loaded tables.
func (c *TableCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
