package scan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestList_FiltersBySuffix(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b_lite.h5"))
	touch(t, filepath.Join(dir, "a_lite.h5"))
	touch(t, filepath.Join(dir, "a.h5"))
	touch(t, filepath.Join(dir, "_lite.h5"))
	touch(t, filepath.Join(dir, "notes.txt"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir_lite.h5"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))
	touch(t, filepath.Join(dir, "nested", "c_lite.h5"))

	got, err := List(dir, "_lite.h5")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_lite.h5", "b_lite.h5"}, got)
}

func TestList_FollowsSymlinksToFiles(t *testing.T) {
	dir := t.TempDir()
	target := t.TempDir()
	touch(t, filepath.Join(target, "real.h5"))
	require.NoError(t, os.Mkdir(filepath.Join(target, "subdir"), 0755))

	require.NoError(t, os.Symlink(filepath.Join(target, "real.h5"), filepath.Join(dir, "file_lite.h5")))
	require.NoError(t, os.Symlink(filepath.Join(target, "subdir"), filepath.Join(dir, "x_lite.h5")))
	require.NoError(t, os.Symlink(filepath.Join(target, "missing.h5"), filepath.Join(dir, "dangling_lite.h5")))

	got, err := List(dir, "_lite.h5")
	require.NoError(t, err)
	assert.Equal(t, []string{"file_lite.h5"}, got)
}

func TestList_EmptyDir(t *testing.T) {
	got, err := List(t.TempDir(), "_lite.h5")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestList_MissingDir(t *testing.T) {
	_, err := List(filepath.Join(t.TempDir(), "absent"), "_lite.h5")
	assert.Error(t, err)
}

func TestModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f_lite.h5")
	touch(t, path)
	want := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, want, want))

	got, err := OS{}.ModTime(path)
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %v want %v", got, want)

	_, err = ModTime(path + ".missing")
	assert.Error(t, err)
}

func TestMapper(t *testing.T) {
	m, err := NewMapper("_lite.h5", ".root", "_flat.root")
	require.NoError(t, err)

	tests := []struct {
		name       string
		input      string
		wantSource string
		wantFinal  string
		wantErr    bool
	}{
		{"plain", "run7_evt12_lite.h5", "run7_evt12.root", "/flat/run7_evt12_flat.root", false},
		{"with directory", "/data/hdf5/run7_lite.h5", "run7.root", "/flat/run7_flat.root", false},
		{"suffix only", "_lite.h5", "", "", true},
		{"wrong suffix", "run7.h5", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := m.SourceName(tt.input)
			final, ferr := m.FinalPath("/flat", tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Error(t, ferr)
				return
			}
			require.NoError(t, err)
			require.NoError(t, ferr)
			assert.Equal(t, tt.wantSource, src)
			assert.Equal(t, tt.wantFinal, final)
		})
	}
}

func TestMapper_AlternateConvention(t *testing.T) {
	m, err := NewMapper("_spine_cuts_v2_lite_cuts_v2.h5", ".root", "_flat.root")
	require.NoError(t, err)

	src, err := m.SourceName("larcv_0001_spine_cuts_v2_lite_cuts_v2.h5")
	require.NoError(t, err)
	assert.Equal(t, "larcv_0001.root", src)
}

func TestNewMapper_Invalid(t *testing.T) {
	_, err := NewMapper("", ".root", "_flat.root")
	assert.Error(t, err)
	_, err = NewMapper("_lite.h5", ".root", "")
	assert.Error(t, err)
	_, err = NewMapper("_lite.h5", ".root", "_lite.h5")
	assert.Error(t, err)
}
