package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/internal/httpclient"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocalStore_PutFetchLocate(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	src := writeTemp(t, "reel bytes")
	ref, err := store.Put(ctx, src, "jobs/abc/output.mp4")
	require.NoError(t, err)
	assert.Equal(t, "local://jobs/abc/output.mp4", ref)
	assert.True(t, store.Owns(ref))
	assert.False(t, store.Owns("s3://bucket/key"))

	dst := filepath.Join(t.TempDir(), "copy.mp4")
	require.NoError(t, store.Fetch(ctx, ref, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "reel bytes", string(data))

	loc, err := store.Locate(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "jobs", "abc", "output.mp4"), loc.Path)

	_, err = store.Locate(ctx, "local://missing.mp4")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestLocalStore_RejectsEscapes(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), writeTemp(t, "x"), "../../etc/passwd")
	assert.True(t, errors.IsInvalidRequestError(err))

	err = store.Fetch(context.Background(), "local://a/../../b", filepath.Join(t.TempDir(), "x"))
	assert.True(t, errors.IsInvalidRequestError(err))

	err = store.Fetch(context.Background(), "s3://bucket/key", filepath.Join(t.TempDir(), "x"))
	assert.True(t, errors.Is(err, ErrUnknownReference))
}

func TestCopyFile_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := filepath.Join(t.TempDir(), "out")
	err := CopyFile(ctx, writeTemp(t, "data"), dst)
	require.Error(t, err)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://" + *in.Bucket + ".s3.amazonaws.com/" + *in.Key + "?X-Amz-Signature=sig"}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	store := &S3Store{client: fake, presign: fakePresigner{}, bucket: "highlights", prefix: "reel/"}

	ref, err := store.Put(ctx, writeTemp(t, "mp4"), "jobs/j1/output.mp4")
	require.NoError(t, err)
	assert.Equal(t, "s3://highlights/reel/jobs/j1/output.mp4", ref)
	assert.Contains(t, fake.objects, "highlights/reel/jobs/j1/output.mp4")

	dst := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, store.Fetch(ctx, ref, dst))
	data, _ := os.ReadFile(dst)
	assert.Equal(t, "mp4", string(data))

	loc, err := store.Locate(ctx, ref)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc.URL, "https://highlights.s3.amazonaws.com/reel/jobs/j1/output.mp4"))

	_, err = store.Locate(ctx, "s3://bucket-only")
	assert.True(t, errors.Is(err, ErrUnknownReference))
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	sources := t.TempDir()
	resolver := NewResolver(store, nil, WithSourceDirs(sources))

	// Store references go through the store.
	ref, err := store.Put(ctx, writeTemp(t, "uploaded"), "uploads/a.mp4")
	require.NoError(t, err)
	dst := filepath.Join(t.TempDir(), "staged", "a.mp4")
	require.NoError(t, resolver.Fetch(ctx, ref, dst))
	data, _ := os.ReadFile(dst)
	assert.Equal(t, "uploaded", string(data))

	// Plain paths are read from an allowed source dir.
	src := filepath.Join(sources, "match.mp4")
	require.NoError(t, os.WriteFile(src, []byte("on disk"), 0o644))
	dst2 := filepath.Join(t.TempDir(), "b.mp4")
	require.NoError(t, resolver.Fetch(ctx, src, dst2))
	data, _ = os.ReadFile(dst2)
	assert.Equal(t, "on disk", string(data))

	// and from the store's own directory
	inStore := filepath.Join(store.Root(), "uploads", "a.mp4")
	require.NoError(t, resolver.Fetch(ctx, "file://"+inStore, filepath.Join(t.TempDir(), "c.mp4")))

	loc, err := resolver.Locate(ctx, src)
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(src)
	assert.Equal(t, want, loc.Path)

	loc, err = resolver.Locate(ctx, "https://example.com/v.mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v.mp4", loc.URL)

	_, err = resolver.Locate(ctx, filepath.Join(sources, "missing.mp4"))
	assert.True(t, errors.IsNotFoundError(err))

	assert.True(t, errors.IsInvalidRequestError(resolver.Fetch(ctx, "", dst)))
}

func TestResolver_RefusesUnsafeSources(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	resolver := NewResolver(store, nil)

	// A file outside every allowed dir, and a link pointing out of one.
	outside := writeTemp(t, "secret")
	link := filepath.Join(store.Root(), "escape.mp4")
	require.NoError(t, os.Symlink(outside, link))

	refs := []string{
		"/etc/hostname",
		"/etc/does-not-exist",
		"file:///etc/hostname",
		outside,
		link,
		"../../etc/hostname",
		"git::https://github.com/teranos/reel.git",
		"git@github.com:teranos/reel.git",
		"github.com/teranos/reel",
		"hg::https://example.com/repo",
		"s3::https://s3.amazonaws.com/bucket/match.mp4",
		"gcs://bucket/match.mp4",
		"ftp://example.com/match.mp4",
		"http://127.0.0.1:8080/match.mp4",
		"http://localhost/match.mp4",
		"http://169.254.169.254/latest/meta-data/",
		"https://user:pw@example.com/match.mp4",
		"https://example.com/archive.tar.gz//match.mp4",
	}
	for _, ref := range refs {
		t.Run(ref, func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), "source.mp4")
			err := resolver.Fetch(ctx, ref, dst)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err), "got %v", err)
			assert.NoFileExists(t, dst)
			assert.True(t, errors.IsInvalidRequestError(resolver.Check(ref)))
		})
	}
}

func TestResolver_DownloadsOverGuardedClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote bytes"))
	}))
	defer srv.Close()
	ctx := context.Background()
	dst := filepath.Join(t.TempDir(), "remote.mp4")

	// The default client refuses the loopback test server.
	err := NewResolver(nil, nil).Fetch(ctx, srv.URL+"/match.mp4", dst)
	assert.True(t, errors.IsInvalidRequestError(err), "got %v", err)

	resolver := NewResolver(nil, nil, WithHTTPClient(httpclient.WrapClient(srv.Client())))
	require.NoError(t, resolver.Fetch(ctx, srv.URL+"/match.mp4", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "remote bytes", string(data))
}

func TestCleanKey(t *testing.T) {
	key, err := CleanKey("/uploads\\x.mp4")
	require.NoError(t, err)
	assert.Equal(t, "uploads/x.mp4", key)

	_, err = CleanKey("")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	store, err := Open(context.Background(), am.StorageConfig{Backend: am.StorageLocal, LocalDir: dir})
	require.NoError(t, err)
	local, ok := store.(*LocalStore)
	require.True(t, ok)
	assert.Equal(t, dir, local.Root())

	_, err = Open(context.Background(), am.StorageConfig{Backend: am.StorageS3})
	assert.True(t, errors.IsInvalidRequestError(err), "s3 without a bucket")

	_, err = Open(context.Background(), am.StorageConfig{Backend: "ftp"})
	assert.True(t, errors.IsInvalidRequestError(err))
}
