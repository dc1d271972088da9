package probe

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

//go:embed payloads/lfi.txt
var lfiPayloads string

// DefaultLFIPayloads returns the built-in file inclusion payloads.
func DefaultLFIPayloads() []string {
	return splitPayloads(lfiPayloads)
}

// LoadPayloads reads <dir>/<kind>.txt, one payload per line. A missing
// file falls back to the built-in list for lfi.
func LoadPayloads(dir, kind string) ([]string, error) {
	kind = strings.ToLower(kind)
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, kind+".txt"))
		switch {
		case err == nil:
			return splitPayloads(string(data)), nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read %s payloads: %w", kind, err)
		}
	}
	if kind == string(KindLFI) {
		return DefaultLFIPayloads(), nil
	}
	return nil, fmt.Errorf("no payload list for %q", kind)
}

func splitPayloads(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// PathCombinations lists the suffixes of a URL path, longest last, each
// followed by its extension-less form when the last segment has one.
// "/a/b.php" gives "b.php", "b", "a/b.php", "a/b".
func PathCombinations(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")

	var out []string
	for i := len(parts) - 1; i >= 0; i-- {
		current := parts[i:]
		out = append(out, strings.Join(current, "/"))

		last := current[len(current)-1]
		if base, _, ok := strings.Cut(last, "."); ok {
			noExt := append(append([]string(nil), current[:len(current)-1]...), base)
			out = append(out, strings.Join(noExt, "/"))
		}
	}
	return out
}
