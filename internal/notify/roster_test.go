package notify

import (
	"os"
	"path/filepath"
	"testing"
)

const testRoster = `BEGIN:VCARD
VERSION:4.0
FN:Alice Editor
EMAIL:alice@example.com
END:VCARD
BEGIN:VCARD
VERSION:4.0
FN:Bob Producer
EMAIL:bob@example.com
EMAIL:alice@example.com
END:VCARD
BEGIN:VCARD
VERSION:4.0
FN:No Address
END:VCARD
`

func TestLoadRoster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crew.vcf")
	if err := os.WriteFile(path, []byte(testRoster), 0o644); err != nil {
		t.Fatal(err)
	}

	emails, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("LoadRoster() error: %v", err)
	}

	want := []string{"alice@example.com", "bob@example.com"}
	if len(emails) != len(want) {
		t.Fatalf("LoadRoster() = %v, want %v", emails, want)
	}
	for i := range want {
		if emails[i] != want[i] {
			t.Errorf("emails[%d] = %q, want %q", i, emails[i], want[i])
		}
	}
}

func TestLoadRoster_Missing(t *testing.T) {
	_, err := LoadRoster("/nonexistent/crew.vcf")
	if err == nil {
		t.Error("LoadRoster should fail for a missing file")
	}
}
