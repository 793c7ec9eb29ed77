package browser

import (
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
)

// captureScript wraps XMLHttpRequest and fetch so the page records every
// call it makes, including request bodies.
const captureScript = `(() => {
	if (window.__apiforgeCapture) return;
	const store = window.__apiforgeCapture = [];
	const record = (method, url, body, type) => {
		if (store.length >= 500) store.shift();
		store.push({
			method: String(method || 'GET').toUpperCase(),
			url: new URL(String(url), location.href).href,
			data: typeof body === 'string' ? body : '',
			type: type,
		});
	};

	const open = XMLHttpRequest.prototype.open;
	const send = XMLHttpRequest.prototype.send;
	XMLHttpRequest.prototype.open = function (method, url) {
		this.__method = method;
		this.__url = url;
		return open.apply(this, arguments);
	};
	XMLHttpRequest.prototype.send = function (body) {
		record(this.__method, this.__url, body, 'XHR');
		return send.apply(this, arguments);
	};

	if (window.fetch) {
		const orig = window.fetch;
		window.fetch = function (input, init) {
			const url = typeof input === 'string' ? input : input.url;
			const method = (init && init.method) || (input && input.method) || 'GET';
			record(method, url, init && init.body, 'Fetch');
			return orig.apply(this, arguments);
		};
	}
})()`

// capturedRequests reads what captureScript recorded.
func capturedRequests(page *rod.Page) []NetworkRequest {
	res, err := page.Eval(`() => window.__apiforgeCapture || []`)
	if err != nil {
		return nil
	}
	return decodeCaptured(res.Value)
}

func decodeCaptured(v gson.JSON) []NetworkRequest {
	var out []NetworkRequest
	for _, item := range v.Arr() {
		u := item.Get("url").Str()
		if u == "" {
			continue
		}
		req := NetworkRequest{
			URL:          u,
			Method:       strings.ToUpper(item.Get("method").Str()),
			PostData:     item.Get("data").Str(),
			ResourceType: item.Get("type").Str(),
			Timestamp:    time.Now(),
		}
		if req.Method == "" {
			req.Method = "GET"
		}
		if t := strings.TrimSpace(req.PostData); strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
			req.ContentType = "application/json"
		}
		out = append(out, req)
	}
	return out
}
