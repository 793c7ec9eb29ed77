// Package output writes catalogues, tools and live session events.
package output

import (
	"fmt"
	"io"

	"github.com/PentesterFlow/apiforge/internal/catalog"
	"github.com/PentesterFlow/apiforge/internal/session"
	"github.com/PentesterFlow/apiforge/internal/synth"
)

// Writer defines the interface for output writers.
type Writer interface {
	// WriteCatalogue writes a complete session snapshot
	WriteCatalogue(snap *session.Snapshot) error

	// WriteTools writes a tool list
	WriteTools(tools []synth.Tool) error

	// WriteEndpoint writes a single endpoint (for streaming)
	WriteEndpoint(ep *catalog.Endpoint) error

	// WriteError writes a source error (for streaming)
	WriteError(err *session.SourceError) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Config holds output configuration.
type Config struct {
	Format   string `json:"format" yaml:"format"`
	Pretty   bool   `json:"pretty" yaml:"pretty"`
	Stream   bool   `json:"stream" yaml:"stream"`
	FilePath string `json:"file_path" yaml:"file_path"`
}

// NewWriter creates a writer for config.Format: "json" (the default) or "yaml".
func NewWriter(w io.Writer, config Config) (Writer, error) {
	switch config.Format {
	case "", "json":
		return NewJSONWriter(w, config.Pretty, config.Stream), nil
	case "yaml", "yml":
		return NewYAMLWriter(w, config.Stream), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", config.Format)
	}
}

// StreamEvent represents a streaming output event.
type StreamEvent struct {
	Type string      `json:"type" yaml:"type"`
	Data interface{} `json:"data" yaml:"data"`
}
