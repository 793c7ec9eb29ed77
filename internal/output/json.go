package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/PentesterFlow/apiforge/internal/catalog"
	"github.com/PentesterFlow/apiforge/internal/session"
	"github.com/PentesterFlow/apiforge/internal/synth"
)

// JSONWriter writes output in JSON format.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	stream bool
	closed bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
}

// WriteCatalogue writes the snapshot with its summary.
func (j *JSONWriter) WriteCatalogue(snap *session.Snapshot) error {
	return j.write(NewCatalogueDocument(snap))
}

// WriteTools writes the tool list as one array.
func (j *JSONWriter) WriteTools(tools []synth.Tool) error {
	if tools == nil {
		tools = []synth.Tool{}
	}
	return j.write(tools)
}

// WriteEndpoint writes a single endpoint in streaming mode.
func (j *JSONWriter) WriteEndpoint(ep *catalog.Endpoint) error {
	if !j.stream {
		return nil
	}
	return j.write(StreamEvent{Type: "endpoint", Data: ep})
}

// WriteError writes a source error in streaming mode.
func (j *JSONWriter) WriteError(err *session.SourceError) error {
	if !j.stream {
		return nil
	}
	return j.write(StreamEvent{Type: "error", Data: err})
}

func (j *JSONWriter) write(v interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	var data []byte
	var err error
	if j.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}

	if _, err = j.writer.Write(data); err != nil {
		return err
	}
	_, err = j.writer.Write([]byte("\n"))
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true

	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
