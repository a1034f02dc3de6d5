package filestore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore() (*Store, afero.Fs) {
	fs := afero.NewMemMapFs()
	s := New(fs)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 5, 0, time.UTC) }
	return s, fs
}

func TestSaveNamesByTimestampAndExtension(t *testing.T) {
	s, fs := newMemStore()

	ref, err := s.Save(context.Background(), "Holiday.JPG", []byte("jpeg"))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^20240501_123005_[0-9a-f]{8}\.jpg$`), ref)

	data, err := afero.ReadFile(fs, "/"+ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)
}

func TestSaveSameSecondDoesNotCollide(t *testing.T) {
	s, _ := newMemStore()

	a, err := s.Save(context.Background(), "a.png", []byte("1"))
	require.NoError(t, err)
	b, err := s.Save(context.Background(), "b.png", []byte("2"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSaveStripsDirectories(t *testing.T) {
	s, _ := newMemStore()

	ref, err := s.Save(context.Background(), "../../etc/passwd.txt", []byte("x"))
	require.NoError(t, err)
	assert.NotContains(t, ref, "/")
	assert.Contains(t, ref, ".txt")
}

func TestSaveRejectsEmptyInput(t *testing.T) {
	s, _ := newMemStore()

	_, err := s.Save(context.Background(), "", []byte("x"))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = s.Save(context.Background(), "a.png", nil)
	assert.ErrorIs(t, err, ErrEmptyFile)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Save(ctx, "a.png", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandlerServesAttachments(t *testing.T) {
	s, _ := newMemStore()
	ref, err := s.Save(context.Background(), "note.txt", []byte("hello"))
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/" + ref)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello", string(body))
}

func TestHandlerServesAttachmentsUnderBasePath(t *testing.T) {
	root := afero.NewMemMapFs()
	s := New(afero.NewBasePathFs(root, "/srv/files"))

	ref, err := s.Save(context.Background(), "cat.png", []byte("png"))
	require.NoError(t, err)

	data, err := afero.ReadFile(root, "/srv/files/"+ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/" + ref)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "png", string(body))
}
