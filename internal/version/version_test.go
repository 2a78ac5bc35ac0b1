package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2025-03-01T10:20:30Z", time.Date(2025, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"2025-03-01 10:20:30", time.Date(2025, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"unknown", time.Time{}},
		{"yesterday", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.True(t, tt.want.Equal(parseTime(tt.input)))
		})
	}
}

func TestShortAndRelease(t *testing.T) {
	info := &BuildInfo{Version: "v1.2.0", GitCommit: "abcdef0123"}
	assert.Equal(t, "v1.2.0 (abcdef0)", info.Short())
	assert.True(t, info.IsRelease())

	info = &BuildInfo{Version: "dev", GitCommit: "unknown"}
	assert.Equal(t, "dev", info.Short())
	assert.False(t, info.IsRelease())
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
