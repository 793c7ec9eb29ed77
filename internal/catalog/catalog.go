// Package catalog merges parser mentions into a de-duplicated endpoint
// catalogue and infers each endpoint's parameter schema.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/logger"
	"github.com/PentesterFlow/apiforge/internal/parser"
)

// Parameter is one input of an endpoint.
type Parameter struct {
	Name     string           `json:"name"`
	Type     parser.ParamType `json:"type"`
	Location parser.Location  `json:"location"`
	Required bool             `json:"required"`
	Evidence int              `json:"evidence"`
}

// Evidence references one mention merged into an endpoint.
type Evidence struct {
	Source     parser.SourceKind `json:"source"`
	Locator    string            `json:"locator"`
	Method     string            `json:"method,omitempty"`
	Path       string            `json:"path,omitempty"`
	Confidence float64           `json:"confidence"`
}

// Endpoint is the canonical catalogue entry for one (method, template) pair.
type Endpoint struct {
	Method       string      `json:"method"`
	Path         string      `json:"path"`
	Parameters   []Parameter `json:"parameters"`
	AuthRequired bool        `json:"auth_required"`
	Category     string      `json:"category"`
	Confidence   float64     `json:"confidence"`
	Evidence     []Evidence  `json:"evidence"`
	Description  string      `json:"description,omitempty"`
	Tags         []string    `json:"tags,omitempty"`
}

// Clone returns a deep copy of e.
func (e Endpoint) Clone() Endpoint {
	out := e
	out.Parameters = append([]Parameter(nil), e.Parameters...)
	out.Evidence = append([]Evidence(nil), e.Evidence...)
	out.Tags = append([]string(nil), e.Tags...)
	return out
}

// Classifier assigns a category to an endpoint.
type Classifier interface {
	Classify(e Endpoint) string
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger used for type-conflict records.
func WithLogger(l *logger.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClassifier categorizes endpoints as they change.
func WithClassifier(cl Classifier) Option {
	return func(c *Catalog) { c.classifier = cl }
}

type entry struct {
	endpoint  Endpoint
	hints     []EvidenceHints
	seen      map[string]bool
	descConf  float64
	conflicts map[string]bool
}

// Catalog is the mutable endpoint set of one analysis. All writes go
// through Merge; readers get copies.
type Catalog struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	log        *logger.Logger
	classifier Classifier
}

// New creates an empty catalog.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		entries: make(map[string]*entry),
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Merge folds m into the catalog and reports whether it contributed new
// evidence. Merging the same mention twice is a no-op.
func (c *Catalog) Merge(m parser.Mention) bool {
	if strings.TrimSpace(m.Path) == "" {
		return false
	}
	method := NormalizeMethod(m.Method)
	template := NormalizePath(m.Path)
	key := Key(method, template)
	evKey := strings.Join([]string{string(m.Source), m.Locator, method, m.Path}, "\x00")

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[key]
	if e == nil {
		e = &entry{
			endpoint:  Endpoint{Method: method, Path: template},
			seen:      make(map[string]bool),
			conflicts: make(map[string]bool),
		}
		c.entries[key] = e
	}
	if e.seen[evKey] {
		return false
	}
	e.seen[evKey] = true

	ep := &e.endpoint
	ep.Evidence = append(ep.Evidence, Evidence{
		Source:     m.Source,
		Locator:    m.Locator,
		Method:     method,
		Path:       m.Path,
		Confidence: m.Confidence,
	})
	e.hints = append(e.hints, EvidenceHints{
		Source: m.Source,
		Hints:  renameHints(m.Hints, Placeholders(template), Placeholders(ep.Path)),
	})

	if m.Confidence > ep.Confidence {
		ep.Confidence = m.Confidence
	}
	ep.AuthRequired = ep.AuthRequired || m.Auth
	ep.Tags = unionTags(ep.Tags, m.Tags)
	if m.Description != "" && (ep.Description == "" || m.Confidence > e.descConf) {
		ep.Description = m.Description
		e.descConf = m.Confidence
	}

	params, conflicts := infer(ep.Path, e.hints)
	ep.Parameters = params
	for _, cf := range conflicts {
		if e.conflicts[cf.Name] {
			continue
		}
		e.conflicts[cf.Name] = true
		amb := errors.New(errors.ParseAmbiguous, "infer", key,
			fmt.Sprintf("parameter %q seen as %v, resolved to unknown", cf.Name, cf.Types), nil)
		c.log.WithError(amb).WithLocator(m.Locator).Debugf("type conflict on %s", key)
	}

	if c.classifier != nil {
		ep.Category = c.classifier.Classify(ep.Clone())
	}
	return true
}

// MergeAll merges every mention and returns how many contributed.
func (c *Catalog) MergeAll(mentions []parser.Mention) int {
	n := 0
	for _, m := range mentions {
		if c.Merge(m) {
			n++
		}
	}
	return n
}

// Len returns the number of endpoints.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Get returns a copy of the endpoint for method and a path in any form.
func (c *Catalog) Get(method, path string) (Endpoint, bool) {
	key := Key(NormalizeMethod(method), NormalizePath(path))

	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return Endpoint{}, false
	}
	return e.endpoint.Clone(), true
}

// Snapshot returns deep copies of all endpoints sorted by path, then method.
func (c *Catalog) Snapshot() []Endpoint {
	c.mu.RLock()
	out := make([]Endpoint, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.endpoint.Clone())
	}
	c.mu.RUnlock()

	SortEndpoints(out)
	return out
}

// SortEndpoints orders endpoints by path, then method.
func SortEndpoints(eps []Endpoint) {
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Path != eps[j].Path {
			return eps[i].Path < eps[j].Path
		}
		return eps[i].Method < eps[j].Method
	})
}

// renameHints maps hint names that sit at a placeholder position onto the
// canonical placeholder name for that position.
func renameHints(hints []parser.Hint, from, to []string) []parser.Hint {
	out := append([]parser.Hint(nil), hints...)
	rename := make(map[string]string)
	for i := 0; i < len(from) && i < len(to); i++ {
		if from[i] != to[i] {
			rename[from[i]] = to[i]
		}
	}
	if len(rename) == 0 {
		return out
	}
	for i := range out {
		if n, ok := rename[out[i].Name]; ok {
			out[i].Name = n
		}
	}
	return out
}

func unionTags(have, add []string) []string {
	if len(add) == 0 {
		return have
	}
	set := make(map[string]bool, len(have)+len(add))
	for _, t := range have {
		set[t] = true
	}
	changed := false
	for _, t := range add {
		if t != "" && !set[t] {
			set[t] = true
			have = append(have, t)
			changed = true
		}
	}
	if changed {
		sort.Strings(have)
	}
	return have
}
