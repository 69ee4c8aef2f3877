package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFromInlineValue(t *testing.T) {
	t.Parallel()

	got, err := Load(Source{Name: "api key", Value: "  top-secret  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "top-secret" {
		t.Fatalf("expected trimmed secret, got %q", got)
	}
}

func TestLoadFilePrecedesValue(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}

	got, err := Load(Source{Name: "api key", Value: "from-value", File: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-file" {
		t.Fatalf("expected file content to win, got %q", got)
	}
}

func TestLoadErrorsOnMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(Source{Name: "api key", File: filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "api key") {
		t.Fatalf("expected error to name the secret, got %v", err)
	}
}

func TestLoadErrorsOnEmptySecret(t *testing.T) {
	t.Parallel()

	_, err := Load(Source{Name: "api key"})
	if err == nil {
		t.Fatal("expected error for unset secret, got nil")
	}

	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, []byte("   \n"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}
	_, err = Load(Source{Name: "api key", File: path})
	if err == nil {
		t.Fatal("expected error for empty secret file, got nil")
	}
}
