package cas

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashString(t *testing.T) {
	// Known SHA256 hash of "hello"
	expected := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	result := HashString("hello")

	if result != expected {
		t.Errorf("HashString(\"hello\") = %q, want %q", result, expected)
	}
}

func TestContentID(t *testing.T) {
	content := []byte("block payload")
	id1 := ContentID(content)
	id2 := ContentID(content)

	if id1 != id2 {
		t.Errorf("same content produced different ids: %q != %q", id1, id2)
	}

	if other := ContentID([]byte("other payload")); id1 == other {
		t.Error("different content should produce different ids")
	}

	if len(id1) != 64 {
		t.Errorf("id length should be 64, got %d", len(id1))
	}
}

func TestVerify(t *testing.T) {
	data := []byte("snapshot")
	if !Verify(ContentID(data), data) {
		t.Error("Verify rejected matching content")
	}
	if Verify(ContentID(data), []byte("tampered")) {
		t.Error("Verify accepted tampered content")
	}
}

func TestHashFile(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "page.md")

	content := "# Title\n\nbody"
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	hash, err := HashFile(tmpFile)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}

	if expected := HashString(content); hash != expected {
		t.Errorf("HashFile result %q doesn't match HashString result %q", hash, expected)
	}
}

func TestHashFile_NotFound(t *testing.T) {
	_, err := HashFile("/nonexistent/path/file.md")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestHashFile_Empty(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "empty.md")

	if err := os.WriteFile(tmpFile, []byte{}, 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	hash, err := HashFile(tmpFile)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}

	// SHA256 of empty string
	expected := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if hash != expected {
		t.Errorf("empty file hash = %q, want %q", hash, expected)
	}
}
