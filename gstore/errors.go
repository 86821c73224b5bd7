package gstore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFileNotFound is returned from [Storage.ReadFile]
// when no blob exists with the given name.
var ErrFileNotFound = errors.New("file not found")

// InvalidNameError is returned when a blob name is empty
// or could escape the storage namespace.
type InvalidNameError struct {
	Name string
}

func (e InvalidNameError) Error() string {
	return fmt.Sprintf("invalid file name %q", e.Name)
}

// ValidateName returns an [InvalidNameError] if name is unusable as a blob name.
// Names are flat: no path separators and no relative path elements.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return InvalidNameError{Name: name}
	}
	return nil
}
