package graph

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mikequentel/circlegram/internal/model"
)

// Container status codes reported by GET /<container>?fields=status_code.
const (
	StatusFinished   = "FINISHED"
	StatusInProgress = "IN_PROGRESS"
	StatusError      = "ERROR"
	StatusExpired    = "EXPIRED"
	StatusPublished  = "PUBLISHED"
)

// Graph error code for "media not ready yet".
const codeMediaNotReady = 9007

// WaitContainerReady polls the container until the platform has finished
// fetching and processing the image. ERROR, EXPIRED and PUBLISHED stop the
// wait at once; a published container cannot be published again.
func (c *Client) WaitContainerReady(ctx context.Context, containerID string) error {
	path := url.PathEscape(containerID)
	endpoint := "GET /" + path + "?fields=status_code"

	return c.poll(ctx, func() error {
		res, err := c.send(ctx, endpoint, c.base.New().Get(path).QueryStruct(&model.FieldsQuery{
			Fields:      "status_code,status",
			AccessToken: c.token,
		}))
		if err != nil {
			return err
		}
		var st model.ContainerStatusResp
		if err := res.decode(endpoint, &st); err != nil {
			return backoff.Permanent(err)
		}
		if st.Error != nil {
			return backoff.Permanent(&LogicalError{Endpoint: endpoint, Reason: "status check returned an error object", Graph: st.Error})
		}
		switch strings.ToUpper(st.StatusCode) {
		case StatusFinished:
			return nil
		case StatusInProgress, "":
			return &LogicalError{Endpoint: endpoint, Reason: "container still " + orUnknown(st.StatusCode)}
		case StatusPublished:
			return backoff.Permanent(&LogicalError{Endpoint: endpoint, Reason: "container already PUBLISHED"})
		default:
			reason := "container " + st.StatusCode
			if st.Status != "" {
				reason += ": " + st.Status
			}
			return backoff.Permanent(&LogicalError{Endpoint: endpoint, Reason: reason})
		}
	})
}

// WaitMediaReady polls a published post until it can be read back, which is
// when it starts accepting comments.
func (c *Client) WaitMediaReady(ctx context.Context, mediaID string) error {
	path := url.PathEscape(mediaID)
	endpoint := "GET /" + path + "?fields=id"

	return c.poll(ctx, func() error {
		res, err := c.send(ctx, endpoint, c.base.New().Get(path).QueryStruct(&model.FieldsQuery{
			Fields:      "id",
			AccessToken: c.token,
		}))
		if err != nil {
			return err
		}
		var body model.GraphResp
		if err := res.decode(endpoint, &body); err != nil {
			return backoff.Permanent(err)
		}
		id, err := checkID(endpoint, body)
		if err != nil {
			return err
		}
		if id != mediaID {
			return backoff.Permanent(&LogicalError{Endpoint: endpoint, Reason: "read back id " + id + ", want " + mediaID})
		}
		return nil
	})
}

func orUnknown(s string) string {
	if s == "" {
		return "without status"
	}
	return s
}

// poll retries op with exponential backoff until it succeeds, returns a
// permanent error, the wait budget runs out, or ctx is done. Only read-only
// status requests go through here.
func (c *Client) poll(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = max(c.pollInterval, 15*time.Second)
	b.MaxElapsedTime = c.pollMaxWait

	return backoff.Retry(func() error {
		err := op()
		var perm *backoff.PermanentError
		if err == nil || errors.As(err, &perm) || retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

// Unavailable reports whether err means the status endpoint itself cannot be
// used (a non-transient 4xx other than 429), as opposed to the media failing.
func Unavailable(err error) bool {
	var re *RequestError
	if !errors.As(err, &re) {
		return false
	}
	if re.StatusCode < 400 || re.StatusCode > 499 || re.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return re.Graph == nil || (!re.Graph.IsTransient && re.Graph.Code != codeMediaNotReady)
}

// retryable reports whether a poll failure may clear up on its own.
func retryable(err error) bool {
	var le *LogicalError
	if errors.As(err, &le) {
		return le.Graph == nil || le.Graph.IsTransient || le.Graph.Code == codeMediaNotReady
	}
	var re *RequestError
	if errors.As(err, &re) {
		switch {
		case re.StatusCode == 0:
			return !errors.Is(re.Err, context.Canceled) && !errors.Is(re.Err, context.DeadlineExceeded)
		case re.StatusCode >= http.StatusInternalServerError, re.StatusCode == http.StatusTooManyRequests:
			return true
		case re.Graph != nil:
			return re.Graph.IsTransient || re.Graph.Code == codeMediaNotReady
		}
	}
	return false
}
