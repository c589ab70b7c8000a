package shipping

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type LabelStore interface {
	// Save stores a label document and returns its path.
	Save(orderID, trackingNumber string, label []byte) (string, error)
}

// FileLabelStore writes labels as <dir>/<order>-<tracking>.pdf.
type FileLabelStore struct {
	Dir string
}

func NewFileLabelStore(dir string) *FileLabelStore {
	return &FileLabelStore{Dir: dir}
}

func (s *FileLabelStore) Save(orderID, trackingNumber string, label []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create label dir: %w", err)
	}
	name := safeName(orderID)
	if trackingNumber != "" {
		name += "-" + safeName(trackingNumber)
	}
	path := filepath.Join(s.Dir, name+".pdf")
	if err := os.WriteFile(path, label, 0o644); err != nil {
		return "", fmt.Errorf("write label: %w", err)
	}
	return path, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
