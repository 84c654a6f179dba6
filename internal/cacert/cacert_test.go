package cacert

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault tests the embedded bundle accessor.
func TestDefault(t *testing.T) {
	t.Parallel()

	bundle := Default()
	assert.NotEmpty(t, bundle)
	assert.Contains(t, string(bundle), "-----BEGIN CERTIFICATE-----")
	assert.Contains(t, string(bundle), "-----END CERTIFICATE-----")
}

// TestEnsure_WritesMissingBundle tests that a missing bundle file is created from the embedded default.
func TestEnsure_WritesMissingBundle(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	path := "/home/user/.conan/cacert.pem"

	require.NoError(t, Ensure(fs, path))

	content, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, Default(), content)
}

// TestEnsure_KeepsExistingBundle tests that an existing bundle file is never overwritten.
func TestEnsure_KeepsExistingBundle(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	path := "/home/user/.conan/cacert.pem"
	custom := []byte("custom bundle content")

	require.NoError(t, afero.WriteFile(fs, path, custom, 0o644))
	require.NoError(t, Ensure(fs, path))

	content, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, custom, content)
}

// TestEnsure_ReadOnlyFilesystem tests that filesystem failures surface as errors.
func TestEnsure_ReadOnlyFilesystem(t *testing.T) {
	t.Parallel()

	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())

	err := Ensure(fs, "/home/user/.conan/cacert.pem")
	require.Error(t, err)
}
