package safefs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) (*FS, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "16.0.0", "extracted"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "16.0.0", "UnicodeData.txt"), []byte("0041;A\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "16.0.0", "extracted", "DerivedAge.txt"), []byte("age"), 0o644))
	fsys, err := New(root)
	require.NoError(t, err)
	return fsys, root
}

func TestRead(t *testing.T) {
	fsys, _ := newTestFS(t)

	data, err := fsys.Read("16.0.0/UnicodeData.txt")
	require.NoError(t, err)
	assert.Equal(t, "0041;A\n", string(data))

	data, err = fsys.Read("16.0.0/extracted%2FDerivedAge.txt")
	require.NoError(t, err, "percent-encoded separators are decoded")
	assert.Equal(t, "age", string(data))

	_, err = fsys.Read("16.0.0")
	assert.ErrorContains(t, err, "is a directory")
}

func TestRejections(t *testing.T) {
	fsys, _ := newTestFS(t)

	tests := []struct {
		name   string
		path   string
		target any
	}{
		{"parent escape", "../etc/passwd", new(*PathTraversalError)},
		{"nested escape", "16.0.0/../../secret", new(*PathTraversalError)},
		{"encoded escape", "%2e%2e/secret", new(*PathTraversalError)},
		{"absolute path", "/etc/passwd", new(*PathTraversalError)},
		{"null byte", "16.0.0/Unicode\x00Data.txt", new(*IllegalCharacterInPathError)},
		{"encoded newline", "16.0.0/a%0Ab", new(*IllegalCharacterInPathError)},
		{"bad escape", "16.0.0/%zz", new(*FailedToDecodePathError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fsys.Read(tt.path)
			require.Error(t, err)
			assert.True(t, errors.As(err, tt.target), "got %T: %v", err, err)
			assert.True(t, IsRejection(err))
		})
	}

	t.Run("inner dot-dot staying below the root is allowed", func(t *testing.T) {
		data, err := fsys.Read("16.0.0/extracted/../UnicodeData.txt")
		require.NoError(t, err)
		assert.Equal(t, "0041;A\n", string(data))
	})
}

func TestSymlinkEscape(t *testing.T) {
	fsys, root := newTestFS(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o644))
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := fsys.Read("link/secret.txt")
	var traversal *PathTraversalError
	assert.True(t, errors.As(err, &traversal))
}

func TestListDir(t *testing.T) {
	fsys, _ := newTestFS(t)

	flat, err := fsys.ListDir("16.0.0", false)
	require.NoError(t, err)
	require.Len(t, flat, 2)
	assert.Equal(t, Entry{Path: "UnicodeData.txt", Size: 7}, flat[0])
	assert.Equal(t, Entry{Path: "extracted", IsDir: true}, flat[1])

	deep, err := fsys.ListDir("16.0.0", true)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Path: "UnicodeData.txt", Size: 7},
		{Path: "extracted/DerivedAge.txt", Size: 3},
	}, deep)

	_, err = fsys.ListDir("../", true)
	assert.True(t, IsRejection(err))

	_, err = fsys.ListDir("16.0.0/UnicodeData.txt", false)
	assert.ErrorContains(t, err, "not a directory")
}

func TestNew_Errors(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = New(file)
	assert.ErrorContains(t, err, "not a directory")
}
