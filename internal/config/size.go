package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize parses a human-readable size. Suffixes K, M, G and T are
// case-insensitive and KiB-based; a decimal number is allowed ("1.5K"). An
// unknown suffix is an error; no suffix means bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := int64(1)
	last := s[len(s)-1]
	switch last {
	case 'k', 'K':
		mult = 1 << 10
	case 'm', 'M':
		mult = 1 << 20
	case 'g', 'G':
		mult = 1 << 30
	case 't', 'T':
		mult = 1 << 40
	default:
		if last < '0' || last > '9' {
			return 0, fmt.Errorf("unknown size suffix %q", string(last))
		}
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	if s == "" {
		return 0, fmt.Errorf("missing size value")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(v * float64(mult)), nil
}
