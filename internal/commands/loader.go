package commands

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hammamikhairi/voxengine/internal/domain"
)

// fileEntry is the YAML shape of a command entry. Action defaults to Name.
type fileEntry struct {
	Name           string   `yaml:"name"`
	Action         string   `yaml:"action"`
	Keywords       []string `yaml:"keywords"`
	BaseConfidence float64  `yaml:"base_confidence"`
}

// File is the YAML document layout:
//
//	universal:
//	  - name: goHome
//	    keywords: [go home, home]
//	    base_confidence: 0.9
//	screens:
//	  quiz:
//	    - name: nextQuestion
//	      keywords: [next]
//	      base_confidence: 0.8
type File struct {
	Universal []fileEntry            `yaml:"universal"`
	Screens   map[string][]fileEntry `yaml:"screens"`
}

// ParseFile decodes a YAML command file into entries. Entry order within
// each table follows the document.
func ParseFile(data []byte) ([]domain.CommandEntry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding command file: %w", err)
	}

	var out []domain.CommandEntry
	add := func(screen string, fe fileEntry) {
		action := fe.Action
		if action == "" {
			action = fe.Name
		}
		out = append(out, domain.CommandEntry{
			Screen:         screen,
			Name:           fe.Name,
			Action:         action,
			Keywords:       fe.Keywords,
			BaseConfidence: fe.BaseConfidence,
		})
	}

	for _, fe := range f.Universal {
		add(domain.UniversalScreen, fe)
	}
	for screen, entries := range f.Screens {
		for _, fe := range entries {
			add(screen, fe)
		}
	}
	return out, nil
}

// LoadFile reads a YAML command file and registers every entry on top of
// the registry's seed tables. On any invalid entry nothing is applied.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading command file: %w", err)
	}
	entries, err := ParseFile(data)
	if err != nil {
		return 0, err
	}

	prepared := make([]domain.CommandEntry, 0, len(entries))
	for _, e := range entries {
		pe, err := r.prepare(e)
		if err != nil {
			return 0, err
		}
		prepared = append(prepared, pe)
	}

	r.mu.Lock()
	r.tables = cloneTables(r.defaults)
	for _, e := range prepared {
		r.insertLocked(e)
	}
	r.mu.Unlock()

	r.log.Info("commands: loaded %d entries from %s", len(entries), path)
	return len(entries), nil
}
