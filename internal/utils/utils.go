package utils

import (
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// textContentTypeExact lists non-"text/" media types still considered text-based.
//
//nolint:gochecknoglobals // This is an immutable lookup used as a constant.
var textContentTypeExact = map[string]struct{}{
	"application/json": {},
	"application/xml":  {},
}

// IsTextContentType checks if the given content type represents a text-based format.
// It supports common text content types like "text/*", "application/json", and "application/xml".
// It also checks that the charset, if present, is either "utf-8" or "us-ascii".
func IsTextContentType(contentType string) bool {
	parsedType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	_, exact := textContentTypeExact[parsedType]
	if !exact && !strings.HasPrefix(parsedType, "text/") {
		return false
	}

	charset := strings.ToLower(params["charset"])

	return charset == "" || charset == "utf-8" || charset == "us-ascii"
}

// ExpandHomePath expands a leading "~" in a filesystem path to the current user's home directory.
// Paths without a leading "~" are returned unchanged, as is the input when the home directory is unknown.
func ExpandHomePath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return home
	}

	return filepath.Join(home, path[2:])
}
