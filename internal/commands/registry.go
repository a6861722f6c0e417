// Package commands holds the per-screen command tables the intent parser
// matches against. Tables are data: built-in defaults can be extended at
// runtime with Register or from a YAML file, and reloaded when that file
// changes.
package commands

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
	"github.com/hammamikhairi/voxengine/internal/textmatch"
)

// Registry is a concurrency-safe set of command tables keyed by screen.
// Entry order within a table is declaration order.
type Registry struct {
	mu       sync.RWMutex
	tables   map[string][]domain.CommandEntry
	defaults map[string][]domain.CommandEntry
	validate *validator.Validate
	log      *logger.Logger
}

// NewRegistry creates a registry seeded with the given entries. The seed is
// remembered so Reset can restore it.
func NewRegistry(log *logger.Logger, seed ...domain.CommandEntry) (*Registry, error) {
	r := &Registry{
		tables:   make(map[string][]domain.CommandEntry),
		defaults: make(map[string][]domain.CommandEntry),
		validate: validator.New(),
		log:      log,
	}
	for _, e := range seed {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	r.defaults = cloneTables(r.tables)
	return r, nil
}

// Register adds an entry, or replaces the entry with the same screen and
// name in place. Keywords are stored normalized.
func (r *Registry) Register(e domain.CommandEntry) error {
	e, err := r.prepare(e)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(e)
	return nil
}

// prepare validates an entry and normalizes its keywords.
func (r *Registry) prepare(e domain.CommandEntry) (domain.CommandEntry, error) {
	if err := r.validate.Struct(e); err != nil {
		return e, fmt.Errorf("%w: %s/%s: %v", domain.ErrInvalidCommand, e.Screen, e.Name, err)
	}

	kws := make([]string, 0, len(e.Keywords))
	for _, k := range e.Keywords {
		if n := textmatch.Normalize(k); n != "" {
			kws = append(kws, n)
		}
	}
	if len(kws) == 0 {
		return e, fmt.Errorf("%w: %s/%s: keywords normalize to nothing", domain.ErrInvalidCommand, e.Screen, e.Name)
	}
	e.Keywords = kws
	return e, nil
}

func (r *Registry) insertLocked(e domain.CommandEntry) {
	table := r.tables[e.Screen]
	for i := range table {
		if table[i].Name == e.Name {
			table[i] = e
			r.log.Debug("commands: replaced %s/%s", e.Screen, e.Name)
			return
		}
	}
	r.tables[e.Screen] = append(table, e)
	r.log.Debug("commands: registered %s/%s (%d keywords)", e.Screen, e.Name, len(e.Keywords))
}

// Remove deletes an entry. It returns domain.ErrNotFound if absent.
func (r *Registry) Remove(screen, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.tables[screen]
	for i := range table {
		if table[i].Name == name {
			r.tables[screen] = append(table[:i:i], table[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

// Reset restores the seed tables.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = cloneTables(r.defaults)
}

// Entries returns a snapshot of the active screen's table and the universal
// table. A request for the universal screen itself returns it once.
func (r *Registry) Entries(screen string) (screenEntries, universal []domain.CommandEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	universal = append([]domain.CommandEntry(nil), r.tables[domain.UniversalScreen]...)
	if screen == domain.UniversalScreen {
		return nil, universal
	}
	return append([]domain.CommandEntry(nil), r.tables[screen]...), universal
}

// Screens lists the screen ids that have tables, sorted, universal included.
func (r *Registry) Screens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.tables))
	for s := range r.tables {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.tables {
		n += len(t)
	}
	return n
}

func cloneTables(in map[string][]domain.CommandEntry) map[string][]domain.CommandEntry {
	out := make(map[string][]domain.CommandEntry, len(in))
	for k, v := range in {
		out[k] = append([]domain.CommandEntry(nil), v...)
	}
	return out
}
