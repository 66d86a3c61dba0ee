package securefs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupSecureFS creates a SecureFS over a fresh temporary directory
func setupSecureFS(t *testing.T) (sfs *SecureFS, tempDir string) {
	t.Helper()
	tempDir = t.TempDir()
	sfs, err := New(tempDir)
	require.NoError(t, err, "Failed to create SecureFS")
	t.Cleanup(func() { _ = sfs.Close() })
	return sfs, tempDir
}

func TestWriteFileAtomicCreatesParents(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	require.NoError(t, sfs.WriteFileAtomic(t.Context(), "tiles/osm/3_1_2.png", []byte("tile"), 0o640))

	data, err := os.ReadFile(filepath.Join(tempDir, "tiles", "osm", "3_1_2.png"))
	require.NoError(t, err)
	assert.Equal(t, "tile", string(data))

	entries, err := sfs.ReadDir("tiles/osm")
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file must be renamed away")
	assert.Equal(t, "3_1_2.png", entries[0].Name())
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)

	require.NoError(t, sfs.WriteFileAtomic(t.Context(), "labels.geojson", []byte("old"), 0o640))
	require.NoError(t, sfs.WriteFileAtomic(t.Context(), "labels.geojson", []byte("new"), 0o640))

	data, err := sfs.ReadFile("labels.geojson")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestWriteFileAtomicCancelledLeavesNothing(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := sfs.WriteFileAtomic(ctx, "tiles/osm/1_0_0.png", []byte("x"), 0o640)
	require.ErrorIs(t, err, ErrWriteAborted)
	require.ErrorIs(t, err, context.Canceled)

	exists, err := sfs.Exists("tiles/osm/1_0_0.png")
	require.NoError(t, err)
	assert.False(t, exists)

	entries, err := sfs.ReadDir("tiles/osm")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestValidateRelativePath(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)

	got, err := sfs.ValidateRelativePath("tiles/./osm/../osm/1_0_0.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("tiles", "osm", "1_0_0.png"), got)

	_, err = sfs.ValidateRelativePath("../outside.txt")
	require.ErrorIs(t, err, ErrPathTraversal)

	_, err = sfs.ValidateRelativePath("/etc/passwd")
	require.ErrorIs(t, err, ErrInvalidPath)

	_, err = sfs.ValidateRelativePath("")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestSymlinkEscapeIsBlocked(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0o600))
	require.NoError(t, os.Symlink(outside, filepath.Join(tempDir, "link")))

	_, err := sfs.ReadFile("link/secret")
	require.Error(t, err)
}

func TestReadFileWithSizeLimit(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)
	sfs.SetMaxReadFileSize(4)

	require.NoError(t, sfs.WriteFileAtomic(context.Background(), "big.bin", []byte("12345"), 0o600))
	_, err := sfs.ReadFile("big.bin")
	require.ErrorIs(t, err, ErrFileTooLarge)
}

func TestServeRelativeFile(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)
	require.NoError(t, sfs.WriteFileAtomic(t.Context(), "tiles/osm/2_1_1.png", []byte("PNG"), 0o640))

	e := echo.New()
	serve := func(rel string) (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		rec := httptest.NewRecorder()
		return rec, sfs.ServeRelativeFile(e.NewContext(req, rec), rel)
	}

	rec, err := serve("tiles/osm/2_1_1.png")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "PNG", rec.Body.String())

	_, err = serve("tiles/osm/9_9_9.png")
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusNotFound, he.Code)

	_, err = serve("../escape.png")
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Code)

	_, err = serve("tiles/osm")
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusForbidden, he.Code)
}
