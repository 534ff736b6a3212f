// Package graph talks to the Instagram Graph API: create a media container,
// publish it, and comment on the published post.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dghubble/sling"

	"github.com/mikequentel/circlegram/internal/model"
)

const DefaultBaseURL = "https://graph.facebook.com/"

// Options configures a Client. Zero durations take sensible defaults.
type Options struct {
	BaseURL      string
	AccessToken  string
	HTTPClient   *http.Client
	PollInterval time.Duration // first wait between readiness polls
	PollMaxWait  time.Duration // give up polling after this long
}

type Client struct {
	base  *sling.Sling
	token string

	pollInterval time.Duration
	pollMaxWait  time.Duration
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PollMaxWait <= 0 {
		opts.PollMaxWait = 2 * time.Minute
	}
	return &Client{
		base:         sling.New().Client(opts.HTTPClient).Base(opts.BaseURL).ResponseDecoder(captureDecoder{}),
		token:        opts.AccessToken,
		pollInterval: opts.PollInterval,
		pollMaxWait:  opts.PollMaxWait,
	}
}

// CreateContainer stages an image post and returns the container id.
func (c *Client) CreateContainer(ctx context.Context, userID, imageURL, caption string) (string, error) {
	path := url.PathEscape(userID) + "/media"
	return c.post(ctx, path, &model.MediaForm{
		ImageURL:    imageURL,
		AccessToken: c.token,
		Caption:     caption,
	})
}

// Publish turns a finished container into a post and returns the post id.
func (c *Client) Publish(ctx context.Context, userID, containerID string) (string, error) {
	path := url.PathEscape(userID) + "/media_publish"
	return c.post(ctx, path, &model.PublishForm{
		CreationID:  containerID,
		AccessToken: c.token,
	})
}

// Comment adds a comment to a published post and returns the comment id.
func (c *Client) Comment(ctx context.Context, mediaID, message string) (string, error) {
	path := url.PathEscape(mediaID) + "/comments"
	return c.post(ctx, path, &model.CommentForm{
		Message:     message,
		AccessToken: c.token,
	})
}

func (c *Client) post(ctx context.Context, path string, form interface{}) (string, error) {
	endpoint := "POST /" + path
	res, err := c.send(ctx, endpoint, c.base.New().Post(path).BodyForm(form))
	if err != nil {
		return "", err
	}
	var body model.GraphResp
	if err := res.decode(endpoint, &body); err != nil {
		return "", err
	}
	return checkID(endpoint, body)
}

// checkID is the success test for every mutating call: no error object and
// a non-empty id.
func checkID(endpoint string, body model.GraphResp) (string, error) {
	if body.Error != nil {
		return "", &LogicalError{Endpoint: endpoint, Reason: "response carries an error object", Graph: body.Error}
	}
	if body.ID == "" {
		return "", &LogicalError{Endpoint: endpoint, Reason: "response has no id"}
	}
	return string(body.ID), nil
}

type captured struct {
	status      int
	contentType string
	body        []byte
}

// captureDecoder keeps the raw body so both the success and the failure
// paths can inspect it.
type captureDecoder struct{}

func (captureDecoder) Decode(resp *http.Response, v interface{}) error {
	c, ok := v.(*captured)
	if !ok {
		return fmt.Errorf("graph: unexpected decode target %T", v)
	}
	b, err := io.ReadAll(resp.Body)
	c.body = b
	return err
}

// send performs the request. Non-2xx statuses come back as *RequestError.
func (c *Client) send(ctx context.Context, endpoint string, s *sling.Sling) (*captured, error) {
	req, err := s.Request()
	if err != nil {
		return nil, &RequestError{Endpoint: endpoint, Err: err}
	}
	res := &captured{}
	resp, err := s.Do(req.WithContext(ctx), res, res)
	if err != nil {
		re := &RequestError{Endpoint: endpoint, Err: err}
		if resp != nil {
			re.StatusCode = resp.StatusCode
		}
		return nil, re
	}
	res.status = resp.StatusCode
	res.contentType = resp.Header.Get("Content-Type")

	if res.status < 200 || res.status > 299 {
		detail, gerr := diagnose(res.contentType, res.body)
		return nil, &RequestError{Endpoint: endpoint, StatusCode: res.status, Detail: detail, Graph: gerr}
	}
	return res, nil
}

func (r *captured) decode(endpoint string, v interface{}) error {
	if len(strings.TrimSpace(string(r.body))) == 0 {
		return &RequestError{Endpoint: endpoint, StatusCode: r.status, Detail: "empty response body"}
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		detail, _ := diagnose(r.contentType, r.body)
		return &RequestError{Endpoint: endpoint, StatusCode: r.status, Detail: "malformed JSON: " + detail, Err: err}
	}
	return nil
}
