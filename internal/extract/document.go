package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/parser"
)

// MaxDocumentSize caps uploaded documents.
const MaxDocumentSize = 32 << 20

type docFormat int

const (
	formatUnsupported docFormat = iota
	formatText
	formatData
	formatHTML
	formatPDF
)

var docFormats = map[string]docFormat{
	".txt": formatText, ".md": formatText, ".markdown": formatText, ".rst": formatText, ".adoc": formatText,
	".json": formatData, ".yaml": formatData, ".yml": formatData,
	".html": formatHTML, ".htm": formatHTML,
	".pdf": formatPDF,
}

// DocumentExtractor turns one uploaded document into text units.
type DocumentExtractor struct {
	base
}

// NewDocumentExtractor creates a document extractor.
func NewDocumentExtractor(cfg Config, opts ...Option) *DocumentExtractor {
	return &DocumentExtractor{base: newBase(cfg, "document", opts)}
}

// Extract reads the document at path ref.
func (d *DocumentExtractor) Extract(ctx context.Context, ref string, emit Emit, sink ErrorSink) error {
	data, err := os.ReadFile(ref)
	if err != nil {
		return errors.New(errors.SourceUnavailable, "open", ref, err.Error(), err)
	}
	return d.ExtractBytes(ctx, filepath.Base(ref), data, emit, sink)
}

// ExtractBytes extracts a document already in memory. name supplies the
// extension; content sniffing covers names without one.
func (d *DocumentExtractor) ExtractBytes(ctx context.Context, name string, data []byte, emit Emit, sink ErrorSink) error {
	if err := ctx.Err(); err != nil {
		return errors.Categorize(err, name)
	}
	if len(data) > MaxDocumentSize {
		return errors.Unsupported(name, "document exceeds size limit")
	}
	start := time.Now()

	switch detectFormat(name, data) {
	case formatText:
		d.unit(emit, d.docUnit(name, "text/plain", data), time.Since(start))

	case formatData:
		u := d.docUnit(name, "application/json", data)
		if parser.LooksLikeSpec(data) {
			u.Kind = parser.UnitSpec
		}
		d.unit(emit, u, time.Since(start))

	case formatHTML:
		text, err := parser.HTMLToText(bytes.NewReader(data))
		if err != nil {
			d.fail(sink, name, errors.NewParseError(name, "html to text", err))
		} else {
			d.unit(emit, d.docUnit(name, "text/plain", []byte(text)), time.Since(start))
		}
		markup := d.docUnit(name, "text/html", data)
		markup.Kind = parser.UnitMarkup
		d.unit(emit, markup, time.Since(start))

	case formatPDF:
		text, err := pdfText(data)
		if err != nil {
			return errors.NewParseError(name, "read pdf", err)
		}
		d.unit(emit, d.docUnit(name, "text/plain", []byte(text)), time.Since(start))

	default:
		return errors.Unsupported(name, "unsupported document type "+http.DetectContentType(data))
	}
	return nil
}

func (d *DocumentExtractor) docUnit(name, contentType string, body []byte) parser.Unit {
	return parser.Unit{
		Kind:        parser.UnitDocument,
		Source:      parser.SourceDocument,
		Locator:     name,
		ContentType: contentType,
		Body:        body,
	}
}

func detectFormat(name string, data []byte) docFormat {
	if f, ok := docFormats[strings.ToLower(filepath.Ext(name))]; ok {
		return f
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return formatPDF
	}
	sniffed := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(sniffed, "text/html"):
		return formatHTML
	case strings.HasPrefix(sniffed, "text/plain"):
		if t := bytes.TrimSpace(data); len(t) > 0 && (t[0] == '{' || t[0] == '[') {
			return formatData
		}
		return formatText
	}
	return formatUnsupported
}

// pdfText concatenates the plain text of every page. The reader panics on
// some malformed files; that is reported as an error.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}
