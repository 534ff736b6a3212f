// Package cloudlog copies slog records to Google Cloud Logging while still
// writing them to the local handler.
package cloudlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/logging"
	"google.golang.org/api/option"
)

// DefaultLogID is the Cloud Logging log name used when none is configured.
const DefaultLogID = "circlegram"

// EntryLogger receives one entry per log record. *logging.Logger satisfies it.
type EntryLogger interface {
	Log(e logging.Entry)
}

// Handler is a slog.Handler that sends every record it handles to both
// next and sink.
type Handler struct {
	next   slog.Handler
	sink   EntryLogger
	attrs  map[string]any
	prefix string // dotted group path for attrs added later
}

func NewHandler(next slog.Handler, sink EntryLogger) *Handler {
	return &Handler{next: next, sink: sink, attrs: map[string]any{}}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	payload := make(map[string]any, len(h.attrs)+r.NumAttrs()+1)
	for k, v := range h.attrs {
		payload[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(payload, h.prefix, a)
		return true
	})
	payload["message"] = r.Message

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	h.sink.Log(logging.Entry{
		Timestamp: ts,
		Severity:  Severity(r.Level),
		Payload:   payload,
	})
	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(as []slog.Attr) slog.Handler {
	n := h.clone()
	for _, a := range as {
		addAttr(n.attrs, h.prefix, a)
	}
	n.next = h.next.WithAttrs(as)
	return n
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	n := h.clone()
	n.prefix = h.prefix + name + "."
	n.next = h.next.WithGroup(name)
	return n
}

func (h *Handler) clone() *Handler {
	attrs := make(map[string]any, len(h.attrs))
	for k, v := range h.attrs {
		attrs[k] = v
	}
	return &Handler{next: h.next, sink: h.sink, attrs: attrs, prefix: h.prefix}
}

// Severity maps a slog level onto the Cloud Logging scale.
func Severity(l slog.Level) logging.Severity {
	switch {
	case l >= slog.LevelError:
		return logging.Error
	case l >= slog.LevelWarn:
		return logging.Warning
	case l >= slog.LevelInfo:
		return logging.Info
	default:
		return logging.Debug
	}
}

// addAttr flattens a into m. Group members get dotted keys.
func addAttr(m map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range v.Group() {
			addAttr(m, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	m[prefix+a.Key] = jsonValue(v)
}

// jsonValue converts v to something the protobuf Struct encoding keeps.
func jsonValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.Any()
	}
}

// Client owns the Cloud Logging connection behind a Handler.
type Client struct {
	client *logging.Client
	logger *logging.Logger
}

// New connects to Cloud Logging for projectID. Write failures are reported to
// errOut since they cannot go through the logger itself.
func New(ctx context.Context, projectID, logID, credentialsFile string, errOut io.Writer) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := logging.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloud logging client: %w", err)
	}
	client.OnError = func(err error) {
		fmt.Fprintf(errOut, "cloud logging: %v\n", err)
	}
	if logID == "" {
		logID = DefaultLogID
	}
	return &Client{client: client, logger: client.Logger(logID)}, nil
}

func (c *Client) Log(e logging.Entry) { c.logger.Log(e) }

// Close flushes buffered entries.
func (c *Client) Close() error { return c.client.Close() }
