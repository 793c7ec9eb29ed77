package probe

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/synth"
)

// Message is one WebSocket frame seen during a probe.
type Message struct {
	Direction string    `json:"direction"` // "sent" or "received"
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func newDialer(cfg Config) *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.Timeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.SkipTLSVerify},
	}
}

// probeWebSocket dials the endpoint, sends the body arguments as one JSON
// text frame if there are any, and records replies until MaxMessages or a
// quiet period of MessageTimeout.
func (p *Prober) probeWebSocket(ctx context.Context, baseURL string, tool synth.Tool, args map[string]interface{}) (*Result, error) {
	req, err := p.build(ctx, tool, baseURL, args)
	if err != nil {
		return nil, err
	}
	u := *req.URL
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, errors.Unsupported(baseURL, "probe supports http, https, ws and wss")
	}
	target := u.String()

	headers := make(http.Header)
	for k, v := range p.cfg.Headers {
		headers.Set(k, v)
	}
	for k, vs := range req.Header {
		if k == "Accept" || k == "Content-Type" {
			continue
		}
		headers[k] = vs
	}
	if p.cfg.UserAgent != "" {
		headers.Set("User-Agent", p.cfg.UserAgent)
	}
	payload := readBody(req.Body)

	start := time.Now()
	conn, resp, err := p.dialer.DialContext(ctx, target, headers)
	if err != nil {
		if resp != nil {
			// The server answered the upgrade with a plain HTTP status.
			defer resp.Body.Close()
			return &Result{
				URL:      target,
				Method:   "WS",
				Status:   resp.StatusCode,
				Headers:  flatten(resp.Header),
				Body:     readBody(resp.Body),
				Duration: time.Since(start),
			}, nil
		}
		return nil, errors.Categorize(err, target)
	}
	defer conn.Close()

	res := &Result{
		URL:     target,
		Method:  "WS",
		Status:  resp.StatusCode,
		Headers: flatten(resp.Header),
	}

	if payload != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return nil, errors.Unavailable(errors.Network, "ws_write", target, err)
		}
		res.Messages = append(res.Messages, Message{
			Direction: "sent",
			Type:      "text",
			Data:      payload,
			Timestamp: time.Now(),
		})
	}

	p.record(ctx, conn, res)
	res.Duration = time.Since(start)
	return res, nil
}

// record reads frames until the quiet period elapses, the limit is hit or
// ctx ends.
func (p *Prober) record(ctx context.Context, conn *websocket.Conn, res *Result) {
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	received := 0
	for received < p.cfg.MaxMessages && ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(p.cfg.MessageTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received++
		res.Messages = append(res.Messages, Message{
			Direction: "received",
			Type:      frameType(msgType),
			Data:      string(data),
			Timestamp: time.Now(),
		})
	}
}

func frameType(t int) string {
	switch t {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	}
	return "unknown"
}
