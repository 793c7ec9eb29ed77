package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/parser"
)

// =============================================================================
// DocumentExtractor Tests
// =============================================================================

func TestDocumentExtractor_Formats(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		data      string
		wantKinds []parser.UnitKind
		wantText  string
	}{
		{"markdown", "api.md", "## Login\nPOST /login", []parser.UnitKind{parser.UnitDocument}, "POST /login"},
		{"plain text without extension", "notes", "GET /users", []parser.UnitKind{parser.UnitDocument}, "GET /users"},
		{"spec json", "openapi.json", `{"openapi":"3.0.0","paths":{}}`, []parser.UnitKind{parser.UnitSpec}, "openapi"},
		{"data json", "sample.json", `{"users":[]}`, []parser.UnitKind{parser.UnitDocument}, "users"},
		{"sniffed json", "payload", `{"swagger":"2.0"}`, []parser.UnitKind{parser.UnitSpec}, "swagger"},
		{
			"html", "guide.html",
			`<html><body><h1>API</h1><p>GET /items</p><form method="post" action="/login"><input name="email"></form></body></html>`,
			[]parser.UnitKind{parser.UnitDocument, parser.UnitMarkup}, "GET /items",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &unitRecorder{}
			err := NewDocumentExtractor(DefaultConfig()).ExtractBytes(context.Background(), tt.file, []byte(tt.data), rec.emit, &Collector{})
			if err != nil {
				t.Fatalf("ExtractBytes() error = %v", err)
			}
			if len(rec.units) != len(tt.wantKinds) {
				t.Fatalf("got %d units, want %d", len(rec.units), len(tt.wantKinds))
			}
			for i, k := range tt.wantKinds {
				if rec.units[i].Kind != k {
					t.Errorf("units[%d].Kind = %s, want %s", i, rec.units[i].Kind, k)
				}
				if rec.units[i].Locator != tt.file || rec.units[i].Source != parser.SourceDocument {
					t.Errorf("units[%d] = %s from %s", i, rec.units[i].Locator, rec.units[i].Source)
				}
			}
			if !strings.Contains(string(rec.units[0].Body), tt.wantText) {
				t.Errorf("first unit body %q lacks %q", rec.units[0].Body, tt.wantText)
			}
		})
	}
}

func TestDocumentExtractor_HTMLIsText(t *testing.T) {
	rec := &unitRecorder{}
	html := `<html><head><script>var x = "<b>";</script></head><body><p>DELETE /items/{id}</p></body></html>`
	if err := NewDocumentExtractor(DefaultConfig()).ExtractBytes(context.Background(), "x.htm", []byte(html), rec.emit, nil); err != nil {
		t.Fatal(err)
	}
	text := string(rec.units[0].Body)
	if strings.Contains(text, "<p>") || strings.Contains(text, "var x") {
		t.Errorf("text unit still carries markup or script: %q", text)
	}
}

func TestDocumentExtractor_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		want apperrors.Kind
	}{
		{"binary", "blob.bin", []byte{0x00, 0x01, 0x02, 0xff, 0xfe}, apperrors.UnsupportedSource},
		{"image", "shot", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), apperrors.UnsupportedSource},
		{"too large", "big.txt", make([]byte, MaxDocumentSize+1), apperrors.UnsupportedSource},
		{"broken pdf", "spec.pdf", []byte("%PDF-1.4\nnot really a pdf"), apperrors.SourceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emitted := 0
			err := NewDocumentExtractor(DefaultConfig()).ExtractBytes(context.Background(), tt.file, tt.data, func(parser.Unit) { emitted++ }, &Collector{})
			if apperrors.KindOf(err) != tt.want {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if emitted != 0 {
				t.Errorf("emitted %d units for a rejected document", emitted)
			}
		})
	}
}

func TestDocumentExtractor_FromPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "endpoints.md")
	if err := os.WriteFile(p, []byte("GET /health"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := &unitRecorder{}
	d := NewDocumentExtractor(DefaultConfig())
	if err := d.Extract(context.Background(), p, rec.emit, nil); err != nil {
		t.Fatal(err)
	}
	if len(rec.units) != 1 || rec.units[0].Locator != "endpoints.md" {
		t.Errorf("units = %+v", rec.units)
	}

	err := d.Extract(context.Background(), filepath.Join(dir, "missing.md"), rec.emit, nil)
	if apperrors.KindOf(err) != apperrors.SourceUnavailable {
		t.Errorf("missing file error = %v", err)
	}
}

// =============================================================================
// Pool Tests
// =============================================================================

func TestPool_BoundedConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	pool := NewPool(context.Background(), 3, time.Second, nil)
	for i := 0; i < 20; i++ {
		pool.Submit(func(ctx context.Context) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
		})
	}
	pool.Wait()
	if peak.Load() > 3 {
		t.Errorf("peak concurrency %d exceeds limit 3", peak.Load())
	}
}

func TestPool_TaskTimeout(t *testing.T) {
	pool := NewPool(context.Background(), 1, 20*time.Millisecond, nil)
	var timedOut atomic.Bool
	pool.Submit(func(ctx context.Context) {
		select {
		case <-ctx.Done():
			timedOut.Store(true)
		case <-time.After(2 * time.Second):
		}
	})
	pool.Wait()
	if !timedOut.Load() {
		t.Error("task context should expire after the task timeout")
	}
}

func TestPool_CanceledRejectsWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool := NewPool(ctx, 2, 0, nil)
	ran := false
	if pool.Submit(func(context.Context) { ran = true }) {
		t.Error("Submit() on a canceled pool should report false")
	}
	pool.Wait()
	if ran {
		t.Error("task ran after cancellation")
	}
}
