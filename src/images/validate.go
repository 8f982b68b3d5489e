package images

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Extension returns the lower-cased extension of name without the dot.
// Leading dots are not extensions, so ".png" has none.
func Extension(name string) string {
	base := strings.TrimLeft(filepath.Base(name), ".")
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
}

// Validate checks the extension and then the size, in that order, and returns
// the normalized extension. size < 0 means the size is not known yet.
func Validate(originalName string, size int64, allowed []string, maxSize int64) (string, error) {
	ext := Extension(originalName)
	if !extensionAllowed(ext, allowed) {
		return "", newValidationError(ErrUnsupportedFileType, "Unsupported file format. Allowed: %s", strings.Join(allowed, ", "))
	}
	if size > maxSize {
		return "", TooLarge(maxSize)
	}
	return ext, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(ext, a) {
			return true
		}
	}
	return false
}

// TooLarge is the error for a file over maxSize bytes.
func TooLarge(maxSize int64) error {
	return newValidationError(ErrFileTooLarge, "File exceeds the maximum size of %s", FormatSize(maxSize))
}

// FormatSize renders a byte count the way limits are shown to users.
func FormatSize(n int64) string {
	const mib = 1024 * 1024
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	if n >= mib {
		return fmt.Sprintf("%.1fMB", float64(n)/mib)
	}
	if n >= 1024 {
		return fmt.Sprintf("%.0fKB", float64(n)/1024)
	}
	return fmt.Sprintf("%d bytes", n)
}

// NewFilename makes a storage name from a random token and the normalized extension.
func NewFilename(ext string) string {
	token := strings.ReplaceAll(uuid.New().String(), "-", "")
	return token + "." + ext
}

// ContentType maps a stored extension to the MIME type it is served with.
func ContentType(filename string) string {
	switch Extension(filename) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	}
	return "application/octet-stream"
}
