package biz

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"Gateleen/internal/model"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

const resolvedPatternCacheSize = 1024

var headerPlaceholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// PatternAndCircuitHash binds a rule pattern to its circuit.
type PatternAndCircuitHash struct {
	Pattern          string
	CircuitHash      string
	MetricName       string
	QueueingStrategy QueueingStrategy

	compiled     *regexp.Regexp
	placeholders bool
}

// Equal reports whether both entries name the same circuit.
func (p PatternAndCircuitHash) Equal(other PatternAndCircuitHash) bool {
	return p.Pattern == other.Pattern && p.CircuitHash == other.CircuitHash
}

// Ref returns the reference the circuit store needs.
func (p PatternAndCircuitHash) Ref() model.CircuitRef {
	return model.CircuitRef{
		Hash:       p.CircuitHash,
		Pattern:    p.Pattern,
		MetricName: p.MetricName,
	}
}

// CircuitHash derives the circuit id of a url pattern.
func CircuitHash(pattern string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.TrimSpace(pattern)))
}

// RuleCircuitMapping resolves request uris to circuits.
type RuleCircuitMapping struct {
	mu       sync.RWMutex
	entries  []PatternAndCircuitHash
	resolved *lru.Cache[string, *regexp.Regexp]
	log      *log.Helper
}

// NewRuleCircuitMapping creates an empty mapping.
func NewRuleCircuitMapping(logger log.Logger) *RuleCircuitMapping {
	cache, err := lru.New[string, *regexp.Regexp](resolvedPatternCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &RuleCircuitMapping{
		resolved: cache,
		log:      log.NewHelper(log.With(logger, "module", "biz/mapping")),
	}
}

// Update replaces the mapping with entries for rules and returns the entries
// that are no longer present. Rules with invalid patterns are logged and skipped.
func (m *RuleCircuitMapping) Update(rules []Rule) []PatternAndCircuitHash {
	entries := make([]PatternAndCircuitHash, 0, len(rules))
	for _, rule := range rules {
		entry, err := newPatternAndCircuitHash(rule)
		if err != nil {
			m.log.Warnw("msg", "skipping rule with invalid pattern", "pattern", rule.Pattern, "error", err)
			continue
		}
		entries = append(entries, entry)
	}

	m.mu.Lock()
	previous := m.entries
	m.entries = entries
	m.mu.Unlock()
	m.resolved.Purge()

	var removed []PatternAndCircuitHash
	for _, old := range previous {
		if !containsEntry(entries, old) {
			removed = append(removed, old)
		}
	}
	return removed
}

// Entries returns a copy of the current mapping.
func (m *RuleCircuitMapping) Entries() []PatternAndCircuitHash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PatternAndCircuitHash(nil), m.entries...)
}

// Resolve returns the first entry whose pattern matches the whole uri.
func (m *RuleCircuitMapping) Resolve(uri string, headers http.Header) (PatternAndCircuitHash, bool) {
	m.mu.RLock()
	entries := m.entries
	m.mu.RUnlock()

	for _, entry := range entries {
		re := entry.compiled
		if entry.placeholders {
			var err error
			re, err = m.resolvePlaceholders(entry.Pattern, headers)
			if err != nil {
				m.log.Debugw("msg", "resolved pattern does not compile", "pattern", entry.Pattern, "error", err)
				continue
			}
		}
		if re.MatchString(uri) {
			return entry, true
		}
	}
	return PatternAndCircuitHash{}, false
}

func (m *RuleCircuitMapping) resolvePlaceholders(pattern string, headers http.Header) (*regexp.Regexp, error) {
	expanded := headerPlaceholder.ReplaceAllStringFunc(pattern, func(placeholder string) string {
		name := headerPlaceholder.FindStringSubmatch(placeholder)[1]
		return regexp.QuoteMeta(headers.Get(name))
	})
	if re, ok := m.resolved.Get(expanded); ok {
		return re, nil
	}
	re, err := compileWholeMatch(expanded)
	if err != nil {
		return nil, err
	}
	m.resolved.Add(expanded, re)
	return re, nil
}

func newPatternAndCircuitHash(rule Rule) (PatternAndCircuitHash, error) {
	entry := PatternAndCircuitHash{
		Pattern:          rule.Pattern,
		CircuitHash:      CircuitHash(rule.Pattern),
		MetricName:       rule.MetricName,
		QueueingStrategy: rule.QueueingStrategy,
	}
	if entry.QueueingStrategy == nil {
		entry.QueueingStrategy = DefaultQueueingStrategy{}
	}

	if headerPlaceholder.MatchString(rule.Pattern) {
		// validate with empty header values, the real regexp is built per request
		if _, err := compileWholeMatch(headerPlaceholder.ReplaceAllString(rule.Pattern, "")); err != nil {
			return PatternAndCircuitHash{}, err
		}
		entry.placeholders = true
		return entry, nil
	}

	re, err := compileWholeMatch(rule.Pattern)
	if err != nil {
		return PatternAndCircuitHash{}, err
	}
	entry.compiled = re
	return entry, nil
}

func compileWholeMatch(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")$")
}

func containsEntry(entries []PatternAndCircuitHash, entry PatternAndCircuitHash) bool {
	for _, e := range entries {
		if e.Equal(entry) {
			return true
		}
	}
	return false
}
