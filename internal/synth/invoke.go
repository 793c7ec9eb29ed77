package synth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/parser"
)

// Build constructs a request for baseURL from the invocation and args. It
// fails when a required argument is missing or the base URL is unusable.
func (inv Invocation) Build(baseURL string, args map[string]interface{}) (*http.Request, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.InvalidInput(baseURL, "base URL must be absolute")
	}

	decoded, escaped := inv.PathTemplate, inv.PathTemplate
	query := base.Query()
	header := make(http.Header)
	body := make(map[string]interface{})

	for _, b := range inv.Bindings {
		v, ok := args[b.Param]
		if !ok || v == nil {
			if b.Required {
				return nil, errors.InvalidInput(inv.PathTemplate, fmt.Sprintf("missing required argument %q", b.Param))
			}
			continue
		}
		switch b.Target {
		case parser.LocationPath:
			s := formatValue(v)
			decoded = strings.ReplaceAll(decoded, "{"+b.Key+"}", s)
			escaped = strings.ReplaceAll(escaped, "{"+b.Key+"}", url.PathEscape(s))
		case parser.LocationHeader:
			header.Set(b.Key, formatValue(v))
		case parser.LocationBody:
			body[b.Key] = v
		default:
			if list, ok := v.([]interface{}); ok {
				for _, item := range list {
					query.Add(b.Key, formatValue(item))
				}
				continue
			}
			query.Set(b.Key, formatValue(v))
		}
	}

	if strings.Contains(escaped, "{") {
		return nil, errors.InvalidInput(inv.PathTemplate, "unbound path placeholder in "+escaped)
	}

	u := *base
	u.Path = strings.TrimRight(base.Path, "/") + decoded
	u.RawPath = strings.TrimRight(base.EscapedPath(), "/") + escaped
	u.RawQuery = query.Encode()

	var reader *bytes.Reader
	if len(body) > 0 {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	method := inv.Method
	if method == "" {
		method = http.MethodGet
	}
	var req *http.Request
	if reader != nil {
		req, err = http.NewRequest(method, u.String(), reader)
	} else {
		req, err = http.NewRequest(method, u.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Build is shorthand for t.Invocation.Build.
func (t Tool) Build(baseURL string, args map[string]interface{}) (*http.Request, error) {
	return t.Invocation.Build(baseURL, args)
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}
