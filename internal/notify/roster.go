package notify

import (
	"fmt"
	"io"
	"os"

	"github.com/emersion/go-vcard"
)

// LoadRoster reads a vCard file and returns every EMAIL value found,
// in file order, deduplicated. Cards without an EMAIL field are
// skipped. A partial roster plus an error is returned when decoding
// fails midway, so callers can still use the addresses read so far.
func LoadRoster(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	dec := vcard.NewDecoder(f)
	seen := make(map[string]bool)
	var emails []string

	for {
		card, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return emails, fmt.Errorf("decode roster %s: %w", path, err)
		}
		for _, addr := range card.Values(vcard.FieldEmail) {
			if addr != "" && !seen[addr] {
				seen[addr] = true
				emails = append(emails, addr)
			}
		}
	}

	return emails, nil
}
