package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// --- graph: form bodies ---

type MediaForm struct {
	ImageURL    string `url:"image_url"`
	AccessToken string `url:"access_token"`
	Caption     string `url:"caption"`
}

type PublishForm struct {
	CreationID  string `url:"creation_id"`
	AccessToken string `url:"access_token"`
}

type CommentForm struct {
	Message     string `url:"message"`
	AccessToken string `url:"access_token"`
}

type FieldsQuery struct {
	Fields      string `url:"fields"`
	AccessToken string `url:"access_token"`
}

// --- graph: responses ---

// GraphID is an object id as returned by the Graph API. Ids usually arrive as
// strings but numbers are accepted too; null, booleans and objects leave it
// empty.
type GraphID string

func (id *GraphID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*id = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = GraphID(s)
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
			return err
		}
		*id = GraphID(n.String())
	default:
		*id = ""
	}
	return nil
}

type GraphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	IsTransient  bool   `json:"is_transient"`
	UserTitle    string `json:"error_user_title"`
	UserMsg      string `json:"error_user_msg"`
	FbtraceID    string `json:"fbtrace_id"`
}

// GraphResp is the common shape of create/publish/comment responses.
type GraphResp struct {
	ID    GraphID     `json:"id"`
	Error *GraphError `json:"error,omitempty"`
}

type ContainerStatusResp struct {
	ID         GraphID     `json:"id"`
	StatusCode string      `json:"status_code"`
	Status     string      `json:"status"`
	Error      *GraphError `json:"error,omitempty"`
}

// --- x: v1.1 media/upload (simple upload) ---

type MediaUploadResp struct {
	MediaID       int64  `json:"media_id"`
	MediaIDString string `json:"media_id_string"`
}

// --- ledger ---

type Run struct {
	ID          int64
	RunID       string // uuid, also logged
	Name        string // random base name of the image
	ImagePath   string
	ObjectKey   string
	PublicURL   string
	ContainerID string
	PostID      string
	CommentID   string
	TweetID     string
	Stage       string // last stage reached
	Error       string
	StartedAt   time.Time
	FinishedAt  *time.Time
}
