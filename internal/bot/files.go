package bot

import (
	"fmt"
	"os"
	"path/filepath"
)

// MaxFileSize is the largest receipt photo accepted from a driver.
const MaxFileSize = 10 * 1024 * 1024

// saveFile stores a downloaded attachment under filesDir and returns
// the full path.
func saveFile(filesDir, fileName string, data []byte) (string, error) {
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create files dir: %w", err)
	}

	full := filepath.Join(filesDir, fileName)
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return full, nil
}

// extFromPath keeps the remote file's extension, defaulting to .jpg the
// way Telegram photos usually arrive.
func extFromPath(remotePath string) string {
	ext := filepath.Ext(remotePath)
	if ext == "" {
		ext = ".jpg"
	}
	return ext
}
