package mediastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutThenGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "run-1")
	require.NoError(t, err)

	id, err := s.Put("screenshot", "image/png", []byte("fake-png-bytes"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	data, mediaType, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, []byte("fake-png-bytes"), data)
	require.Equal(t, "image/png", mediaType)
}

func TestPutCreatesSessionDirectoryWithSequencedFilenames(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "run-2")
	require.NoError(t, err)

	_, err = s.Put("fetch_url", "text/plain", []byte("a"))
	require.NoError(t, err)
	_, err = s.Put("fetch_url", "text/plain", []byte("b"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "media-run-2"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "fetch_url_1.txt", entries[0].Name())
	require.Equal(t, "fetch_url_2.txt", entries[1].Name())
}

func TestGetUnknownIDFails(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "run-3")
	require.NoError(t, err)

	_, _, err = s.Get("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutSanitizesGadgetNameForFilename(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "run-4")
	require.NoError(t, err)

	_, err = s.Put("weird/gadget name!", "application/json", []byte("{}"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "media-run-4"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "weird_gadget_name__1.json", entries[0].Name())
}

func TestUnknownMediaTypeFallsBackToBinExtension(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "run-5")
	require.NoError(t, err)

	_, err = s.Put("synth", "application/octet-stream", []byte{0x01, 0x02})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "media-run-5"))
	require.NoError(t, err)
	require.Equal(t, "synth_1.bin", entries[0].Name())
}
