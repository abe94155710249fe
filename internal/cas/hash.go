package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// HashFile computes the content id of a file on disk
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ContentID computes the content id (SHA256 hex) of a blob
func ContentID(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashString computes the content id of a string
func HashString(content string) string {
	return ContentID([]byte(content))
}

// Verify reports whether data hashes to id
func Verify(id string, data []byte) bool {
	return ContentID(data) == id
}
