package blob

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *BlobService {
	t.Helper()
	svc, err := NewMemBlobService()
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestBlobService_Lifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ts, err := svc.Index().Timestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	info, err := svc.Create(ctx, "dir/a.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Timestamp)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", info.Hash)
	assert.Equal(t, int64(5), info.Size)

	_, err = svc.Create(ctx, "dir/a.txt", strings.NewReader("again"))
	assert.ErrorIs(t, err, ErrFileExists)

	_, err = svc.Modify(ctx, "missing.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	info, err = svc.Modify(ctx, "dir/a.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Timestamp)

	got, rc, err := svc.Open(ctx, "/dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Timestamp)
	assert.Equal(t, "hello world", readAll(t, rc))

	ts, err = svc.Delete(ctx, "dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), ts)

	_, err = svc.Delete(ctx, "dir/a.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, _, err = svc.Open(ctx, "dir/a.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)

	// failed mutations do not move the counter
	ts, err = svc.Index().Timestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ts)
}

func TestBlobService_List(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, key := range []string{"b.txt", "a.txt", "sub/c.txt"} {
		_, err := svc.Create(ctx, key, strings.NewReader(key))
		require.NoError(t, err)
	}

	files, ts, err := svc.Index().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ts)
	require.Len(t, files, 3)
	assert.Equal(t, "a.txt", files[0].Key)
	assert.Equal(t, int64(2), files[0].Timestamp)
	assert.Equal(t, 3, svc.Index().Count(ctx))
}

func TestBlobService_OnChange(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		changes []int64
	)
	svc.OnChange(func(key string, ts int64) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, ts)
	})

	_, err := svc.Create(ctx, "a.txt", strings.NewReader("a"))
	require.NoError(t, err)
	_, err = svc.Delete(ctx, "a.txt")
	require.NoError(t, err)
	_, err = svc.Delete(ctx, "a.txt")
	require.Error(t, err)

	assert.Equal(t, []int64{1, 2}, changes)
}

func TestBlobService_ConcurrentCreatesGetDistinctTimestamps(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	seen := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := svc.Create(ctx, "f"+strings.Repeat("x", i), strings.NewReader("c"))
			assert.NoError(t, err)
			seen <- info.Timestamp
		}(i)
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for ts := range seen {
		unique[ts] = true
	}
	assert.Len(t, unique, 20)
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a.txt", "a.txt", true},
		{"/a/b.txt", "a/b.txt", true},
		{"a//./b.txt", "a/b.txt", true},
		{`win\path.txt`, "win/path.txt", true},
		{"", "", false},
		{"/", "", false},
		{"../etc/passwd", "", false},
		{"a/../../x", "", false},
		{".staging/x", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := CleanKey(tc.in)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
