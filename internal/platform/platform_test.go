package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		url  string
		want Platform
	}{
		{"https://www.tiktok.com/@user/video/1", TikTok},
		{"https://instagram.com/reel/abc", Instagram},
		{"https://m.facebook.com/watch?v=1", Facebook},
		{"https://youtube.com/watch?v=x", YouTube},
		{"https://youtu.be/x", YouTube},
		{"https://twitter.com/a/status/1", Twitter},
		{"https://x.com/a/status/1", Twitter},
		{"HTTPS://WWW.YOUTUBE.COM/watch?v=x", YouTube},
		{"https://vimeo.com/1", Auto},
		{"", Auto},
		// earlier rules win when several hosts appear
		{"https://tiktok.com/?ref=youtube.com", TikTok},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Detect(tt.url), "Detect(%q)", tt.url)
	}
}

func TestParse(t *testing.T) {
	p, err := Parse("YouTube")
	require.NoError(t, err)
	assert.Equal(t, YouTube, p)

	p, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, Auto, p)

	_, err = Parse("myspace")
	assert.Error(t, err)
}

func TestHint(t *testing.T) {
	assert.Equal(t, "Paste your TikTok video link here", Hint(TikTok))
	assert.Equal(t, defaultHint, Hint(Auto))
	for _, p := range All() {
		assert.NotEqual(t, defaultHint, Hint(p), "missing hint for %s", p)
	}
}
