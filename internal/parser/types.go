package parser

import "strings"

// SourceKind identifies where a mention came from.
type SourceKind string

const (
	SourceWeb           SourceKind = "web"
	SourceRepository    SourceKind = "repository"
	SourceDocument      SourceKind = "document"
	SourceSpecification SourceKind = "specification"
)

// UnitKind identifies the shape of a raw content unit.
type UnitKind string

const (
	UnitPage     UnitKind = "page"
	UnitScript   UnitKind = "script"
	UnitNetwork  UnitKind = "network"
	UnitSpec     UnitKind = "spec"
	UnitFile     UnitKind = "file"
	UnitDocument UnitKind = "document"
	UnitMarkup   UnitKind = "markup"
)

// Unit is one raw content unit produced by an extractor.
type Unit struct {
	Kind        UnitKind
	Source      SourceKind
	Locator     string
	ContentType string
	Body        []byte
	Depth       int

	// Method is set for captured network requests.
	Method string
}

// ParamType is an inferred parameter type. TypeUnknown is a legal final value.
type ParamType string

const (
	TypeNone    ParamType = ""
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
	TypeUnknown ParamType = "unknown"
)

// ParseType maps a loose type word ("int", "bool", "float") onto a ParamType.
func ParseType(word string) ParamType {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "string", "str", "text", "uuid", "email", "date", "datetime", "date-time", "password":
		return TypeString
	case "number", "integer", "int", "int32", "int64", "float", "double", "decimal", "long":
		return TypeNumber
	case "boolean", "bool":
		return TypeBoolean
	case "object", "dict", "map", "json":
		return TypeObject
	case "array", "list", "[]":
		return TypeArray
	default:
		return TypeNone
	}
}

// Location is where a parameter travels in a request.
type Location string

const (
	LocationNone   Location = ""
	LocationPath   Location = "path"
	LocationQuery  Location = "query"
	LocationHeader Location = "header"
	LocationBody   Location = "body"
)

// Hint is one piece of parameter evidence attached to a mention. Location is
// only set when a specification states it.
type Hint struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type,omitempty"`
	Location    Location  `json:"location,omitempty"`
	Required    bool      `json:"required,omitempty"`
	BodyShaped  bool      `json:"body_shaped,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Confidence tiers. Ordering is specification > collection > captured >
// explicit > document > partial.
const (
	ConfidenceSpecification = 1.0
	ConfidenceCollection    = 0.95
	ConfidenceCaptured      = 0.9
	ConfidenceExplicit      = 0.8
	ConfidenceDocument      = 0.7
	ConfidencePartial       = 0.4
)

// Mention is one raw signal that an endpoint may exist. Mentions are
// values; nothing downstream modifies them.
type Mention struct {
	Source      SourceKind `json:"source"`
	Locator     string     `json:"locator"`
	Fragment    string     `json:"fragment,omitempty"`
	Method      string     `json:"method,omitempty"`
	Path        string     `json:"path,omitempty"`
	Hints       []Hint     `json:"hints,omitempty"`
	Confidence  float64    `json:"confidence"`
	Description string     `json:"description,omitempty"`
	Auth        bool       `json:"auth,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// httpMethods are the verbs recognized across all parsers.
var httpMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// IsHTTPMethod reports whether s is an HTTP verb, case-insensitively.
func IsHTTPMethod(s string) bool {
	return httpMethods[strings.ToUpper(s)]
}

func truncateContext(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// lineAt returns the 1-based line number of byte offset off in s.
func lineAt(s string, off int) int {
	if off > len(s) {
		off = len(s)
	}
	return strings.Count(s[:off], "\n") + 1
}
