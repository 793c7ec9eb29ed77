package output

import (
	"sort"

	"github.com/PentesterFlow/apiforge/internal/session"
)

// CatalogueDocument is a session snapshot plus its summary.
type CatalogueDocument struct {
	*session.Snapshot
	Summary Summary `json:"summary"`
}

// NewCatalogueDocument wraps snap with a computed summary.
func NewCatalogueDocument(snap *session.Snapshot) CatalogueDocument {
	return CatalogueDocument{Snapshot: snap, Summary: Summarize(snap)}
}

// Summary counts a catalogue along a few axes.
type Summary struct {
	Endpoints    int            `json:"endpoints"`
	AuthRequired int            `json:"auth_required"`
	ByMethod     map[string]int `json:"by_method"`
	ByCategory   map[string]int `json:"by_category"`
	BySource     map[string]int `json:"by_source"`
	Errors       int            `json:"errors"`
	ErrorsByKind map[string]int `json:"errors_by_kind,omitempty"`
	TopLocators  []LocatorCount `json:"top_locators,omitempty"`
}

// LocatorCount is how many endpoints cite one locator.
type LocatorCount struct {
	Locator string `json:"locator"`
	Count   int    `json:"count"`
}

const topLocators = 10

// Summarize computes the summary of snap. An endpoint counts once per
// source kind that produced evidence for it.
func Summarize(snap *session.Snapshot) Summary {
	s := Summary{
		ByMethod:   make(map[string]int),
		ByCategory: make(map[string]int),
		BySource:   make(map[string]int),
	}
	if snap == nil {
		return s
	}

	locators := make(map[string]int)
	for _, ep := range snap.Endpoints {
		s.Endpoints++
		if ep.AuthRequired {
			s.AuthRequired++
		}
		s.ByMethod[ep.Method]++
		s.ByCategory[ep.Category]++

		sources := make(map[string]bool)
		cited := make(map[string]bool)
		for _, ev := range ep.Evidence {
			sources[string(ev.Source)] = true
			cited[ev.Locator] = true
		}
		for src := range sources {
			s.BySource[src]++
		}
		for loc := range cited {
			locators[loc]++
		}
	}

	s.Errors = len(snap.Errors)
	if s.Errors > 0 {
		s.ErrorsByKind = make(map[string]int)
		for _, e := range snap.Errors {
			s.ErrorsByKind[e.Kind]++
		}
	}

	for loc, n := range locators {
		s.TopLocators = append(s.TopLocators, LocatorCount{Locator: loc, Count: n})
	}
	sort.Slice(s.TopLocators, func(i, j int) bool {
		if s.TopLocators[i].Count != s.TopLocators[j].Count {
			return s.TopLocators[i].Count > s.TopLocators[j].Count
		}
		return s.TopLocators[i].Locator < s.TopLocators[j].Locator
	})
	if len(s.TopLocators) > topLocators {
		s.TopLocators = s.TopLocators[:topLocators]
	}
	return s
}
