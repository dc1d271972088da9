package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// persist writes body under dir as <uuid-hex>-<name>. Only the base of name
// is used so a save name cannot escape dir.
func persist(dir, name string, body []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(dir, id+"-"+filepath.Base(name))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("save response body: %w", err)
	}
	return path, nil
}
