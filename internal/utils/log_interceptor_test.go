package utils

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInterceptor(out *bytes.Buffer) *LogInterceptor {
	li := NewLogInterceptor(out)
	li.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return li
}

func TestLogInterceptor_Lines(t *testing.T) {
	var out bytes.Buffer
	li := newTestInterceptor(&out)

	n, err := li.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "seq=1 time=2026-01-02T03:04:05Z first\n", out.String())

	_, err = li.Write([]byte("ond\r\nthird\n"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "seq=2 time=2026-01-02T03:04:05Z second", lines[1])
	assert.Equal(t, "seq=3 time=2026-01-02T03:04:05Z third", lines[2])
}

func TestLogInterceptor_CloseFlushesPartial(t *testing.T) {
	var out bytes.Buffer
	li := newTestInterceptor(&out)

	_, err := li.Write([]byte("no newline"))
	require.NoError(t, err)
	assert.Empty(t, out.String())

	require.NoError(t, li.Close())
	assert.Equal(t, "seq=1 time=2026-01-02T03:04:05Z no newline\n", out.String())

	require.NoError(t, li.Close())
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
}
