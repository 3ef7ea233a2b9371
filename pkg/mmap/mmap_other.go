//go:build unix && !linux

package mmap

import "errors"

// tryMremap is unavailable outside Linux; always trigger the fallback path.
func (m *Map) tryMremap(newSize int) ([]byte, error) {
	return nil, errors.New("mremap not available")
}
