package staging_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/staging"
)

func TestSave_DatedPathAndIDPrefix(t *testing.T) {
	s := staging.New(t.TempDir())
	path, err := s.Save(context.Background(), "J1", 0, "speech.mp3", strings.NewReader("audio-bytes"))
	require.NoError(t, err)

	now := time.Now().UTC()
	require.Contains(t, path, filepath.Join(now.Format("2006-01"), now.Format("02")))
	require.Equal(t, "J1_speech.mp3", filepath.Base(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "audio-bytes", string(b))
}

func TestSave_SlotNaming(t *testing.T) {
	s := staging.New(t.TempDir())
	p1, err := s.Save(context.Background(), "J2", 1, "a.png", strings.NewReader("x"))
	require.NoError(t, err)
	p2, err := s.Save(context.Background(), "J2", 2, "b.png", strings.NewReader("y"))
	require.NoError(t, err)
	require.Equal(t, "J2_1_a.png", filepath.Base(p1))
	require.Equal(t, "J2_2_b.png", filepath.Base(p2))
}

func TestSave_OpaqueFilename(t *testing.T) {
	s := staging.New(t.TempDir())
	path, err := s.Save(context.Background(), "J3", 0, "../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	require.Equal(t, "J3_passwd", filepath.Base(path))
	require.True(t, strings.HasPrefix(path, s.Root()))
}

func TestRemove_RefusesOutsideRoot(t *testing.T) {
	s := staging.New(t.TempDir())
	outside := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))
	require.Error(t, s.Remove(outside))
	_, err := os.Stat(outside)
	require.NoError(t, err)
}

func TestRemove_IgnoresMissing(t *testing.T) {
	s := staging.New(t.TempDir())
	require.NoError(t, s.Remove(filepath.Join(s.Root(), "2026-01", "01", "gone")))
}

func TestEntries_ParsesID(t *testing.T) {
	s := staging.New(t.TempDir())
	_, err := s.Save(context.Background(), "J4", 0, "img.png", strings.NewReader("x"))
	require.NoError(t, err)
	_, err = s.Save(context.Background(), "J5", 2, "doc.pdf", strings.NewReader("y"))
	require.NoError(t, err)

	entries, err := s.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	ids := map[string]bool{}
	for _, e := range entries {
		ids[e.ID] = true
	}
	require.True(t, ids["J4"])
	require.True(t, ids["J5"])
}

func TestPruneEmptyDirs(t *testing.T) {
	s := staging.New(t.TempDir())
	path, err := s.Save(context.Background(), "J6", 0, "f.txt", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, s.Remove(path))
	require.NoError(t, s.PruneEmptyDirs())

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCheck(t *testing.T) {
	s := staging.New(filepath.Join(t.TempDir(), "fresh"))
	require.NoError(t, s.Check(context.Background()))
}
