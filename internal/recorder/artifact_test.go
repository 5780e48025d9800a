package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"video/webm":             "webm",
		"video/webm;codecs=vp9":  "webm",
		"video/x-ivf":            "ivf",
		"video/mp4":              "mp4",
		"application/x-whatever": "bin",
		"":                       "bin",
	}
	for mime, want := range cases {
		assert.Equal(t, want, extensionFor(mime), mime)
	}
}

func TestArtifact_AssignRemoteOnce(t *testing.T) {
	start := time.Unix(1700000000, 0)
	a := newArtifact([][]byte{[]byte("ab")}, "video/webm", start, start.Add(90*time.Second))

	name, ok := a.assignRemote("first", "link-1")
	assert.True(t, ok)
	assert.Equal(t, a.Name(), name)
	_, ok = a.assignRemote("second", "link-2")
	assert.False(t, ok)
	assert.Equal(t, "first", a.RemoteID())
	assert.Equal(t, "link-1", a.ShareLink())

	_, local := a.renameIfLocal("x")
	assert.False(t, local)

	info := a.Info()
	assert.Equal(t, "00:01:30", info.Elapsed)
	assert.Equal(t, "0.00", info.SizeMB)
	assert.EqualValues(t, 2, info.SizeBytes)
}

func TestArtifact_NegativeDuration(t *testing.T) {
	now := time.Now()
	a := newArtifact(nil, "video/webm", now, now.Add(-time.Second))
	assert.Equal(t, 0, a.DurationSeconds())
	assert.Empty(t, a.Payload())
}
