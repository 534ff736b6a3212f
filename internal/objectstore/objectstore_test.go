package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	bucket, key string
	body        []byte
}

type fakeStore struct {
	calls []call
	err   error
}

func (f *fakeStore) Upload(_ context.Context, bucket, key string, r io.Reader) error {
	b, _ := io.ReadAll(r)
	f.calls = append(f.calls, call{bucket: bucket, key: key, body: b})
	return f.err
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		prefix, bucket, key, want string
	}{
		{"https://storage.googleapis.com/", "b", "1.jpg", "https://storage.googleapis.com/b/1.jpg"},
		{"https://storage.googleapis.com", "b", "1.jpg", "https://storage.googleapis.com/b/1.jpg"},
		{"https://cdn.example.com//", "/b/", "/1.jpg", "https://cdn.example.com/b/1.jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PublicURL(tt.prefix, tt.bucket, tt.key))
	}
}

func TestUploadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "123.jpg")
	require.NoError(t, os.WriteFile(p, []byte("jpeg-bytes"), 0644))

	store := &fakeStore{}
	u := &Uploader{Store: store, Prefix: "https://storage.googleapis.com/"}

	url, err := u.UploadFile(context.Background(), "circles", p, "123.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/circles/123.jpg", url)

	require.Len(t, store.calls, 1)
	assert.Equal(t, "circles", store.calls[0].bucket)
	assert.Equal(t, "123.jpg", store.calls[0].key)
	assert.True(t, bytes.Equal([]byte("jpeg-bytes"), store.calls[0].body))
}

func TestUploadFile_StoreError(t *testing.T) {
	p := filepath.Join(t.TempDir(), "1.jpg")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))

	boom := errors.New("403 forbidden")
	u := &Uploader{Store: &fakeStore{err: boom}, Prefix: "https://storage.googleapis.com/"}

	_, err := u.UploadFile(context.Background(), "b", p, "1.jpg")
	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "b", uerr.Bucket)
	assert.Equal(t, "1.jpg", uerr.Key)
	assert.ErrorIs(t, err, boom)
}

func TestUploadFile_MissingFile(t *testing.T) {
	store := &fakeStore{}
	u := &Uploader{Store: store}

	_, err := u.UploadFile(context.Background(), "b", filepath.Join(t.TempDir(), "gone.jpg"), "gone.jpg")
	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, store.calls)
}
