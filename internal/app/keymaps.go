package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"keybridge/internal/config"
	"keybridge/internal/keymap"
)

// Configuration keys naming the keymap description.
const (
	KeymapTextKey = "xkb_keymap"
	KeymapFileKey = "xkb_keymap_file"
)

// ResolveDescription picks the keymap description to compile. A path given
// on the command line wins, then xkb_keymap_file (relative to the config
// file), then inline xkb_keymap text, then the built-in pc105 us keymap.
func ResolveDescription(cliPath string, store *config.Store) (string, string, error) {
	if path := strings.TrimSpace(cliPath); path != "" {
		desc, err := readDescription(path)
		return desc, path, err
	}
	if path := store.String(KeymapFileKey, ""); path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(store.Dir(), path)
		}
		desc, err := readDescription(path)
		return desc, path, err
	}
	if desc := store.String(KeymapTextKey, ""); strings.TrimSpace(desc) != "" {
		return desc, KeymapTextKey, nil
	}
	return keymap.DefaultDescription, "builtin", nil
}

func readDescription(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read keymap %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("keymap %s is empty", path)
	}
	return string(data), nil
}
