package gist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/convosync/convosync/internal/blob"
)

// loadToken reads the persisted credential. A missing file means the
// client starts unauthenticated and is not an error.
func loadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", blob.NewError(blob.KindStorage, "load-credential", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// saveToken persists the credential with owner-only permissions.
func saveToken(path, token string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return blob.NewError(blob.KindStorage, "save-credential", fmt.Errorf("failed to create credential directory: %w", err))
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return blob.NewError(blob.KindStorage, "save-credential", err)
	}
	return nil
}
