package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mikequentel/circlegram/internal/model"
)

// RequestError is a call that failed at the HTTP level: the request could
// not be sent, the status was not 2xx, or a 2xx body was not JSON.
type RequestError struct {
	Endpoint   string
	StatusCode int // 0 when no response arrived
	Detail     string
	Graph      *model.GraphError // set when the body carried a Graph error object
	Err        error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString(e.Endpoint)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " -> HTTP %d", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RequestError) Unwrap() error { return e.Err }

// LogicalError is a 2xx response whose body does not say the call worked.
type LogicalError struct {
	Endpoint string
	Reason   string
	Graph    *model.GraphError
}

func (e *LogicalError) Error() string {
	if e.Graph != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Endpoint, e.Reason, describeGraphError(e.Graph))
	}
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Reason)
}

func describeGraphError(g *model.GraphError) string {
	var parts []string
	if g.Type != "" {
		parts = append(parts, g.Type)
	}
	if g.Code != 0 {
		parts = append(parts, fmt.Sprintf("code=%d", g.Code))
	}
	if g.ErrorSubcode != 0 {
		parts = append(parts, fmt.Sprintf("subcode=%d", g.ErrorSubcode))
	}
	msg := g.Message
	if g.UserMsg != "" {
		msg += " / " + g.UserMsg
	}
	s := strings.Join(parts, " ")
	if msg != "" {
		if s != "" {
			s += ": "
		}
		s += msg
	}
	if g.FbtraceID != "" {
		s += " (fbtrace_id " + g.FbtraceID + ")"
	}
	return s
}

// diagnose turns an error body into one readable line: the Graph error
// object if there is one, the <title> of an HTML error page, or the raw text.
func diagnose(contentType string, body []byte) (string, *model.GraphError) {
	var env struct {
		Error *model.GraphError `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return describeGraphError(env.Error), env.Error
	}

	mt, _, _ := mime.ParseMediaType(contentType)
	if mt == "text/html" || bytes.HasPrefix(bytes.TrimSpace(bytes.ToLower(body)), []byte("<!doctype html")) ||
		bytes.HasPrefix(bytes.TrimSpace(bytes.ToLower(body)), []byte("<html")) {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
				return title, nil
			}
			if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
				return h1, nil
			}
		}
	}

	raw := strings.TrimSpace(string(body))
	const maxRaw = 300
	if r := []rune(raw); len(r) > maxRaw {
		raw = string(r[:maxRaw]) + "…"
	}
	return raw, nil
}
