package catalog

import (
	"github.com/PentesterFlow/apiforge/internal/parser"
)

// EvidenceHints is the hint list contributed by one merged mention.
type EvidenceHints struct {
	Source parser.SourceKind
	Hints  []parser.Hint
}

// Conflict records a parameter whose evidence disagreed on its type.
type Conflict struct {
	Name  string
	Types []parser.ParamType
}

type paramAcc struct {
	name        string
	types       []parser.ParamType
	specLoc     parser.Location
	bodyShaped  bool
	allRequired bool
	mentions    int
}

func (a *paramAcc) addType(t parser.ParamType) {
	if t == parser.TypeNone {
		return
	}
	for _, seen := range a.types {
		if seen == t {
			return
		}
	}
	a.types = append(a.types, t)
}

func (a *paramAcc) resolvedType(fallback parser.ParamType) parser.ParamType {
	switch len(a.types) {
	case 0:
		return fallback
	case 1:
		return a.types[0]
	default:
		return parser.TypeUnknown
	}
}

// Infer unions the hints of every mention merged into template into an
// ordered parameter list. Placeholders come first in template order, the rest
// in first-seen order.
func Infer(template string, evidence []EvidenceHints) []Parameter {
	params, _ := infer(template, evidence)
	return params
}

func infer(template string, evidence []EvidenceHints) ([]Parameter, []Conflict) {
	holders := Placeholders(template)
	isHolder := make(map[string]bool, len(holders))
	for _, h := range holders {
		isHolder[h] = true
	}

	accs := make(map[string]*paramAcc)
	var order []string
	for _, ev := range evidence {
		seen := make(map[string]bool)
		for _, h := range ev.Hints {
			if h.Name == "" || seen[h.Name] {
				continue
			}
			seen[h.Name] = true

			a := accs[h.Name]
			if a == nil {
				a = &paramAcc{name: h.Name, allRequired: true}
				accs[h.Name] = a
				order = append(order, h.Name)
			}
			a.mentions++
			a.addType(h.Type)
			if h.Location != parser.LocationNone && a.specLoc == parser.LocationNone {
				a.specLoc = h.Location
			}
			if h.BodyShaped {
				a.bodyShaped = true
			}
			if !h.Required {
				a.allRequired = false
			}
		}
	}

	var (
		params    []Parameter
		conflicts []Conflict
	)
	note := func(a *paramAcc) {
		if len(a.types) > 1 {
			conflicts = append(conflicts, Conflict{Name: a.name, Types: append([]parser.ParamType(nil), a.types...)})
		}
	}

	for _, name := range holders {
		p := Parameter{
			Name:     name,
			Type:     parser.TypeString,
			Location: parser.LocationPath,
			Required: true,
			Evidence: len(evidence),
		}
		if a := accs[name]; a != nil {
			p.Type = a.resolvedType(parser.TypeString)
			note(a)
		}
		params = append(params, p)
	}

	for _, name := range order {
		if isHolder[name] {
			continue
		}
		a := accs[name]
		note(a)
		params = append(params, Parameter{
			Name:     name,
			Type:     a.resolvedType(parser.TypeUnknown),
			Location: location(a),
			Required: a.allRequired,
			Evidence: a.mentions,
		})
	}
	return params, conflicts
}

func location(a *paramAcc) parser.Location {
	switch {
	case a.specLoc == parser.LocationPath:
		// A path location with no matching placeholder cannot be bound.
		return parser.LocationQuery
	case a.specLoc != parser.LocationNone:
		return a.specLoc
	case a.bodyShaped:
		return parser.LocationBody
	default:
		return parser.LocationQuery
	}
}
