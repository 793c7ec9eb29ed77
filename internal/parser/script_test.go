package parser

import (
	"testing"
)

// =============================================================================
// ScriptParser Tests
// =============================================================================

func TestScriptParser_CallSites(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		method     string
		path       string
		confidence float64
	}{
		{"fetch default", `fetch('/api/users')`, "GET", "/api/users", ConfidencePartial},
		{"fetch with method", `fetch("/api/users", { method: "DELETE" })`, "DELETE", "/api/users", ConfidenceExplicit},
		{"axios verb", `axios.put('/api/users/1', {name: 'a'})`, "PUT", "/api/users/1", ConfidenceExplicit},
		{"axios generic", `axios.get<User[]>('/api/users')`, "GET", "/api/users", ConfidenceExplicit},
		{"axios config", `axios({url: '/api/login', method: 'post'})`, "POST", "/api/login", ConfidenceExplicit},
		{"jquery ajax", `$.ajax({url: "/api/search", type: "GET"})`, "GET", "/api/search", ConfidenceExplicit},
		{"jquery post", `$.post('/api/comments', {text: 'hi'})`, "POST", "/api/comments", ConfidenceExplicit},
		{"jquery getJSON", `$.getJSON('/api/feed')`, "GET", "/api/feed", ConfidenceExplicit},
		{"xhr open", `xhr.open("PATCH", "/api/profile")`, "PATCH", "/api/profile", ConfidenceExplicit},
		{"angular", `this.http.post<Order>('/api/orders', order)`, "POST", "/api/orders", ConfidenceExplicit},
		{"superagent", `superagent.del('/api/sessions')`, "DELETE", "/api/sessions", ConfidenceExplicit},
		{"ky", `ky.get('/api/stats')`, "GET", "/api/stats", ConfidenceExplicit},
	}

	p := NewScriptParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mentions := p.Parse(tt.src, "app.js", SourceWeb)
			if len(mentions) != 1 {
				t.Fatalf("len(mentions) = %d, want 1: %+v", len(mentions), mentions)
			}
			m := mentions[0]
			if m.Method != tt.method || m.Path != tt.path {
				t.Errorf("mention = %s %s, want %s %s", m.Method, m.Path, tt.method, tt.path)
			}
			if m.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want %v", m.Confidence, tt.confidence)
			}
			if m.Locator != "app.js:1" {
				t.Errorf("Locator = %q, want app.js:1", m.Locator)
			}
		})
	}
}

func TestScriptParser_PathRecovery(t *testing.T) {
	tests := []struct {
		name string
		src  string
		path string
	}{
		{"template literal", "fetch(`/api/users/${user.id}/posts`)", "/api/users/{id}/posts"},
		{"concatenation", `fetch('/api/users/' + userId)`, "/api/users/{userId}"},
		{"base identifier dropped", `axios.get(API_BASE + '/orders/' + encodeURIComponent(orderId))`, "/orders/{orderId}"},
		{"base template dropped", "fetch(`${baseUrl}/v2/items`)", "/v2/items"},
		{"absolute url kept", `fetch('https://api.example.com/v1/things')`, "https://api.example.com/v1/things"},
		{"query split", `fetch('/api/search?q=test&page=2')`, "/api/search"},
	}

	p := NewScriptParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mentions := p.Parse(tt.src, "app.js", SourceWeb)
			if len(mentions) != 1 {
				t.Fatalf("len(mentions) = %d, want 1: %+v", len(mentions), mentions)
			}
			if mentions[0].Path != tt.path {
				t.Errorf("Path = %q, want %q", mentions[0].Path, tt.path)
			}
		})
	}
}

func TestScriptParser_QueryHints(t *testing.T) {
	mentions := NewScriptParser().Parse(`fetch('/api/search?q=test&page=2')`, "app.js", SourceWeb)
	if len(mentions) != 1 {
		t.Fatalf("len(mentions) = %d, want 1", len(mentions))
	}
	for _, name := range []string{"q", "page"} {
		h := hintNamed(mentions[0].Hints, name)
		if h == nil {
			t.Errorf("missing hint %q", name)
			continue
		}
		if h.BodyShaped {
			t.Errorf("hint %q should not be body-shaped", name)
		}
	}
}

func TestScriptParser_BodyHints(t *testing.T) {
	src := `
		fetch('/api/appointments', {
			method: 'POST',
			headers: {'Content-Type': 'application/json', 'Authorization': 'Bearer ' + token},
			body: JSON.stringify({ date: '2024-01-01', slots: [1, 2], confirmed: true, note })
		});`

	mentions := NewScriptParser().Parse(src, "booking.js", SourceWeb)
	if len(mentions) != 1 {
		t.Fatalf("len(mentions) = %d, want 1: %+v", len(mentions), mentions)
	}
	m := mentions[0]
	if !m.Auth {
		t.Error("Authorization header should mark the mention as authenticated")
	}
	if m.Locator != "booking.js:2" {
		t.Errorf("Locator = %q, want booking.js:2", m.Locator)
	}

	want := []struct {
		name string
		typ  ParamType
	}{
		{"date", TypeString},
		{"slots", TypeArray},
		{"confirmed", TypeBoolean},
		{"note", TypeNone},
	}
	if len(m.Hints) != len(want) {
		t.Fatalf("len(Hints) = %d, want %d: %+v", len(m.Hints), len(want), m.Hints)
	}
	for i, w := range want {
		h := m.Hints[i]
		if h.Name != w.name || h.Type != w.typ || !h.BodyShaped {
			t.Errorf("Hints[%d] = %+v, want body-shaped %s %q", i, h, w.name, w.typ)
		}
	}
}

func TestScriptParser_GetDataIsQuery(t *testing.T) {
	mentions := NewScriptParser().Parse(`$.ajax({url: '/api/items', data: {page: 1}})`, "app.js", SourceWeb)
	if len(mentions) != 1 {
		t.Fatalf("len(mentions) = %d, want 1", len(mentions))
	}
	m := mentions[0]
	if m.Method != "GET" || m.Confidence != ConfidencePartial {
		t.Errorf("mention = %s conf %v, want GET partial", m.Method, m.Confidence)
	}
	if h := hintNamed(m.Hints, "page"); h == nil || h.BodyShaped {
		t.Errorf("hint page = %+v, want query-shaped", h)
	}
}

func TestScriptParser_WebSocketAndBarePaths(t *testing.T) {
	src := `
		const ws = new WebSocket('/api/live');
		const ENDPOINTS = { users: "/api/users", health: "/v1/health" };
		fetch('/api/orders/' + id);
		const logo = "/api/logo.png";`

	mentions := NewScriptParser().Parse(src, "app.js", SourceWeb)

	ws := findMention(mentions, "GET", "/api/live")
	if ws == nil || len(ws.Tags) == 0 || ws.Tags[0] != "websocket" {
		t.Errorf("websocket mention = %+v", ws)
	}
	for _, path := range []string{"/api/users", "/v1/health"} {
		if m := findMention(mentions, "", path); m == nil || m.Confidence != ConfidencePartial {
			t.Errorf("bare path %s = %+v, want partial mention", path, m)
		}
	}
	if findMention(mentions, "", "/api/orders/") != nil {
		t.Error("literal inside a claimed call should not produce a bare mention")
	}
	if findMention(mentions, "", "/api/logo.png") != nil {
		t.Error("asset paths should be ignored")
	}
}

func TestScriptParser_NoFalsePositives(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"window open", `window.open('https://example.com/help')`},
		{"asset fetch", `fetch('/static/app.css')`},
		{"dynamic url", `fetch(url)`},
		{"plain text", `const msg = "call the api later";`},
	}

	p := NewScriptParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Parse(tt.src, "app.js", SourceWeb); len(got) != 0 {
				t.Errorf("Parse() = %+v, want none", got)
			}
		})
	}
}

func TestSplitArgs(t *testing.T) {
	src := `call('a, b', {x: [1, 2]}, fn(1, 2)) + rest`
	args, end, ok := splitArgs(src, 4)
	if !ok {
		t.Fatal("splitArgs() failed")
	}
	if len(args) != 3 {
		t.Fatalf("len(args) = %d, want 3: %q", len(args), args)
	}
	if args[0] != `'a, b'` || args[1] != `{x: [1, 2]}` || args[2] != `fn(1, 2)` {
		t.Errorf("args = %q", args)
	}
	if src[end-1] != ')' {
		t.Errorf("end = %d points at %q", end, src[end-1])
	}

	if _, _, ok := splitArgs(`call('unterminated`, 4); ok {
		t.Error("splitArgs() should fail on an unterminated call")
	}
}

func TestLastIdent(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"id", "id"},
		{"user.id", "id"},
		{"encodeURIComponent(query)", "query"},
		{"String(this.props.orderId)", "orderId"},
		{"42", ""},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if got := lastIdent(tt.expr); got != tt.want {
				t.Errorf("lastIdent(%q) = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}
}
