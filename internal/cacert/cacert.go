// Package cacert ships the default certificate authority bundle used to
// verify remote repository TLS certificates and installs it on disk when the
// configured bundle file does not exist yet.
package cacert

import (
	_ "embed"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/manut/conan/internal/constants"
)

// defaultBundle is the CA bundle embedded into the binary.
//
//go:embed cacert.pem
var defaultBundle []byte

// Default returns the embedded default CA bundle content.
func Default() []byte {
	return defaultBundle
}

// Ensure makes sure a CA bundle file exists at the given path,
// writing the embedded default bundle there when it is missing.
// An existing file is left untouched, whatever its content.
func Ensure(fs afero.Fs, path string) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return fmt.Errorf("failed to check CA bundle file: %w", err)
	}

	if exists {
		return nil
	}

	if err = fs.MkdirAll(filepath.Dir(path), constants.DefaultFolderPermissions); err != nil {
		return fmt.Errorf("failed to create CA bundle directory: %w", err)
	}

	if err = afero.WriteFile(fs, path, defaultBundle, constants.DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write default CA bundle: %w", err)
	}

	return nil
}
