// Package parser resolves a transcript against the active screen's command
// table and the universal table. Parsing is a pure computation over a table
// snapshot: no state survives between calls.
package parser

import (
	"sort"

	"github.com/hammamikhairi/voxengine/internal/domain"
	"github.com/hammamikhairi/voxengine/internal/logger"
	"github.com/hammamikhairi/voxengine/internal/textmatch"
)

// Defaults for the decision step.
const (
	DefaultThreshold          = 0.6
	DefaultAmbiguityThreshold = 0.85
	DefaultClarifyGap         = 0.1
	DefaultMaxOptions         = 3

	// universalFactor lowers the eligibility threshold for universal
	// entries, which have few, distinctive keywords.
	universalFactor = 0.9
)

// TableSource supplies the command tables for a screen.
type TableSource interface {
	Entries(screen string) (screenEntries, universal []domain.CommandEntry)
}

// Option configures the Parser.
type Option func(*Parser)

// WithAmbiguityThreshold sets the confidence above which the top candidate
// is accepted without clarification.
func WithAmbiguityThreshold(v float64) Option {
	return func(p *Parser) { p.ambiguity = v }
}

// WithClarifyGap sets how close the top two confidences must be to ask the
// user which one they meant.
func WithClarifyGap(v float64) Option {
	return func(p *Parser) { p.clarifyGap = v }
}

// WithMaxOptions caps the candidates offered in a clarification.
func WithMaxOptions(n int) Option {
	return func(p *Parser) { p.maxOptions = n }
}

// Parser turns transcripts into ParsedCommands.
type Parser struct {
	tables     TableSource
	log        *logger.Logger
	ambiguity  float64
	clarifyGap float64
	maxOptions int
}

// New creates a parser reading tables from src.
func New(src TableSource, log *logger.Logger, opts ...Option) *Parser {
	p := &Parser{
		tables:     src,
		log:        log,
		ambiguity:  DefaultAmbiguityThreshold,
		clarifyGap: DefaultClarifyGap,
		maxOptions: DefaultMaxOptions,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// match is one eligible entry with its best keyword.
type match struct {
	entry      domain.CommandEntry
	keyword    string
	similarity float64
	confidence float64
}

// Parse scores text against the tables for screen. threshold is the minimum
// similarity for screen entries; universal entries use threshold × 0.9.
// A non-positive threshold falls back to DefaultThreshold.
func (p *Parser) Parse(text, screen string, threshold float64) domain.ParsedCommand {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	out := domain.ParsedCommand{Intent: domain.IntentNoMatch, RawText: text}
	normalized := textmatch.Normalize(text)
	if normalized == "" {
		p.log.Debug("parser: empty input")
		return out
	}

	screenEntries, universal := p.tables.Entries(screen)
	matches := make([]match, 0, len(screenEntries)+len(universal))
	matches = p.collect(matches, normalized, screenEntries, threshold)
	matches = p.collect(matches, normalized, universal, threshold*universalFactor)
	matches = dedupeByIntent(matches)

	if len(matches) == 0 {
		p.log.Debug("parser: no match for %q on %s", normalized, screen)
		return out
	}

	// Stable sort keeps declaration order (screen first) among equals.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].confidence > matches[j].confidence
	})

	top := matches[0]
	if len(matches) > 1 && p.ambiguous(top, matches[1]) {
		out.Intent = domain.IntentAskClarification
		out.Confidence = top.confidence
		out.Options = p.options(matches)
		p.log.Debug("parser: %q is ambiguous between %d candidates", normalized, len(out.Options))
		return out
	}

	out.Intent = top.entry.Action
	out.CommandName = top.entry.Name
	out.Confidence = top.confidence
	out.MatchedKeyword = top.keyword
	p.log.Debug("parser: %q -> %s (keyword=%q, confidence=%.3f)", normalized, out.Intent, top.keyword, top.confidence)
	return out
}

// collect scores every entry and appends the eligible ones.
func (p *Parser) collect(dst []match, text string, entries []domain.CommandEntry, threshold float64) []match {
	for _, e := range entries {
		best, bestKw := -1.0, ""
		for _, kw := range e.Keywords {
			// Strictly greater: the first keyword wins ties.
			if s := textmatch.Similarity(text, kw); s > best {
				best, bestKw = s, kw
			}
		}
		if best < threshold {
			continue
		}
		dst = append(dst, match{
			entry:      e,
			keyword:    bestKw,
			similarity: best,
			confidence: best * e.BaseConfidence,
		})
	}
	return dst
}

// ambiguous decides whether the runner-up is close enough to the top
// candidate that the user must choose. A top candidate above the ambiguity
// threshold is accepted outright unless the runner-up clears it too.
func (p *Parser) ambiguous(top, second match) bool {
	if top.confidence-second.confidence >= p.clarifyGap {
		return false
	}
	if top.confidence > p.ambiguity && second.confidence <= p.ambiguity {
		return false
	}
	return true
}

// options returns the candidates within the clarify gap of the top one.
func (p *Parser) options(sorted []match) []domain.Candidate {
	top := sorted[0].confidence
	var out []domain.Candidate
	for _, m := range sorted {
		if len(out) == p.maxOptions || top-m.confidence >= p.clarifyGap {
			break
		}
		out = append(out, domain.Candidate{
			Intent:      m.entry.Action,
			CommandName: m.entry.Name,
			Confidence:  m.confidence,
		})
	}
	return out
}

// dedupeByIntent keeps the strongest match per intent so a screen entry and
// a universal entry for the same action never compete with each other.
func dedupeByIntent(in []match) []match {
	best := make(map[string]int, len(in))
	out := in[:0]
	for _, m := range in {
		if i, ok := best[m.entry.Action]; ok {
			if m.confidence > out[i].confidence {
				out[i] = m
			}
			continue
		}
		best[m.entry.Action] = len(out)
		out = append(out, m)
	}
	return out
}
