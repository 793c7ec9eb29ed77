package output

import (
	"encoding/json"
	"io"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/apiforge/internal/catalog"
	"github.com/PentesterFlow/apiforge/internal/session"
	"github.com/PentesterFlow/apiforge/internal/synth"
)

// YAMLWriter writes output as YAML documents. Field names and order follow
// the JSON form.
type YAMLWriter struct {
	mu     sync.Mutex
	writer io.Writer
	stream bool
	closed bool
}

// NewYAMLWriter creates a new YAML writer.
func NewYAMLWriter(w io.Writer, stream bool) *YAMLWriter {
	return &YAMLWriter{writer: w, stream: stream}
}

// WriteCatalogue writes the snapshot with its summary.
func (y *YAMLWriter) WriteCatalogue(snap *session.Snapshot) error {
	return y.write(NewCatalogueDocument(snap))
}

// WriteTools writes the tool list.
func (y *YAMLWriter) WriteTools(tools []synth.Tool) error {
	if tools == nil {
		tools = []synth.Tool{}
	}
	return y.write(tools)
}

// WriteEndpoint writes a single endpoint in streaming mode.
func (y *YAMLWriter) WriteEndpoint(ep *catalog.Endpoint) error {
	if !y.stream {
		return nil
	}
	return y.write(StreamEvent{Type: "endpoint", Data: ep})
}

// WriteError writes a source error in streaming mode.
func (y *YAMLWriter) WriteError(err *session.SourceError) error {
	if !y.stream {
		return nil
	}
	return y.write(StreamEvent{Type: "error", Data: err})
}

// write emits one "---"-separated document.
func (y *YAMLWriter) write(v interface{}) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil
	}

	node, err := toYAMLNode(v)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	if _, err := y.writer.Write([]byte("---\n")); err != nil {
		return err
	}
	_, err = y.writer.Write(data)
	return err
}

// toYAMLNode round-trips v through JSON so the json tags name the keys.
// JSON parses as flow-style YAML; the styles are reset to block.
func toYAMLNode(v interface{}) (*yaml.Node, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	blockStyle(&doc)
	return &doc, nil
}

func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" {
		n.Style &^= yaml.DoubleQuotedStyle
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// Flush flushes the writer.
func (y *YAMLWriter) Flush() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if flusher, ok := y.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer.
func (y *YAMLWriter) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	y.closed = true

	if closer, ok := y.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
