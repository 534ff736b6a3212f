// Package xpost mirrors a finished post to X: one image plus the caption.
package xpost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dghubble/go-twitter/twitter"
	"github.com/dghubble/oauth1"
	"github.com/dghubble/sling"

	"github.com/mikequentel/circlegram/internal/model"
)

const (
	uploadURL = "https://upload.twitter.com/1.1/media/upload.json"
	maxLen    = 280
)

// Credentials are the four OAuth 1.0a user-context secrets.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

type Poster struct {
	httpClient *http.Client
	client     *twitter.Client
}

// New builds a signed client. Requests inherit ctx, including a base
// transport set under oauth1.HTTPClient.
func New(ctx context.Context, creds Credentials) *Poster {
	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	httpClient := config.Client(ctx, token)
	return &Poster{
		httpClient: httpClient,
		client:     twitter.NewClient(httpClient),
	}
}

// Post uploads the image and posts a status carrying it. It returns the
// tweet id.
func (p *Poster) Post(ctx context.Context, imagePath, caption, hashtags string) (string, error) {
	mediaID, err := p.uploadMedia(ctx, imagePath)
	if err != nil {
		return "", fmt.Errorf("x media upload: %w", err)
	}
	id, err := strconv.ParseInt(mediaID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("x media upload: bad media_id %q: %w", mediaID, err)
	}

	tweet, _, err := p.client.Statuses.Update(FormatStatus(caption, hashtags), &twitter.StatusUpdateParams{
		MediaIds: []int64{id},
	})
	if err != nil {
		return "", fmt.Errorf("x status update: %w", err)
	}
	if tweet.IDStr != "" {
		return tweet.IDStr, nil
	}
	if tweet.ID != 0 {
		return strconv.FormatInt(tweet.ID, 10), nil
	}
	return "", fmt.Errorf("x status update: response has no id")
}

type multipartBody struct {
	contentType string
	body        []byte
}

func (m multipartBody) ContentType() string      { return m.contentType }
func (m multipartBody) Body() (io.Reader, error) { return bytes.NewReader(m.body), nil }

// uploadMedia does a simple (non-chunked) upload, fine for a single JPEG.
func (p *Poster) uploadMedia(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("media", filepath.Base(imagePath))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	s := sling.New().Client(p.httpClient).Post(uploadURL).BodyProvider(multipartBody{
		contentType: mw.FormDataContentType(),
		body:        buf.Bytes(),
	})
	req, err := s.Request()
	if err != nil {
		return "", err
	}

	var out model.MediaUploadResp
	apiErr := new(twitter.APIError)
	resp, err := s.Do(req.WithContext(ctx), &out, apiErr)
	if err != nil {
		return "", err
	}
	if !apiErr.Empty() {
		return "", apiErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if out.MediaIDString != "" {
		return out.MediaIDString, nil
	}
	if out.MediaID != 0 {
		return strconv.FormatInt(out.MediaID, 10), nil
	}
	return "", fmt.Errorf("missing media_id in upload response")
}

// FormatStatus joins caption and hashtags and keeps the result within 280
// runes. A long caption is shortened with an ellipsis and the hashtags kept,
// unless the hashtags would leave fewer than 20 runes for the caption; then
// the hashtags are dropped and only the caption is posted.
func FormatStatus(caption, hashtags string) string {
	body := strings.TrimSpace(caption)
	tail := ""
	if h := strings.TrimSpace(hashtags); h != "" {
		tail = " " + h
	}
	if body == "" {
		return truncateRunes(strings.TrimSpace(tail), maxLen)
	}

	text := body + tail
	if runeLen(text) <= maxLen {
		return text
	}

	const ellipsis = "…"
	avail := maxLen - runeLen(tail) - runeLen(ellipsis)
	if avail < 20 {
		if runeLen(body) <= maxLen {
			return body
		}
		return truncateRunes(body, maxLen-runeLen(ellipsis)) + ellipsis
	}
	return truncateRunes(body, avail) + ellipsis + tail
}

func runeLen(s string) int { return len([]rune(s)) }

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
