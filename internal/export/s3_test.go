package export

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	key         string
	contentType string
	body        string
	uploadErr   error
	expires     time.Duration
}

func (f *fakeObjectStore) Upload(_ context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	b, _ := io.ReadAll(body)
	f.key, f.contentType, f.body = key, contentType, string(b)
	return "https://bucket/" + key, nil
}

func (f *fakeObjectStore) PresignDownloadURL(_ context.Context, key string, expires time.Duration) (string, error) {
	f.expires = expires
	return "https://bucket/" + key + "?sig=1", nil
}

func (f *fakeObjectStore) PresignExpire() time.Duration { return 30 * time.Minute }

func TestS3Exporter(t *testing.T) {
	store := &fakeObjectStore{}
	e := NewS3Exporter(store, func() string { return "u-1" }, nil)

	url, err := e.Export(context.Background(), "../Demo Clip.webm", "", strings.NewReader("payload"), 7)
	require.NoError(t, err)
	assert.Equal(t, "recordings/u-1/Demo Clip.webm", store.key)
	assert.Equal(t, "application/octet-stream", store.contentType)
	assert.Equal(t, "payload", store.body)
	assert.Equal(t, 30*time.Minute, store.expires)
	assert.Equal(t, "https://bucket/recordings/u-1/Demo Clip.webm?sig=1", url)
}

func TestS3Exporter_UploadError(t *testing.T) {
	store := &fakeObjectStore{uploadErr: errors.New("access denied")}
	_, err := NewS3Exporter(store, nil, nil).Export(context.Background(), "x.webm", "video/webm", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
