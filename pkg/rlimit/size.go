package rlimit

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count written as 512, 64k, 256MiB or 1g
type Size uint64

// String stringer interface for print
func (s Size) String() string {
	t := uint64(s)
	switch {
	case t < 1<<10:
		return fmt.Sprintf("%d B", t)
	case t < 1<<20:
		return fmt.Sprintf("%.1f KiB", float64(t)/float64(1<<10))
	case t < 1<<30:
		return fmt.Sprintf("%.1f MiB", float64(t)/float64(1<<20))
	default:
		return fmt.Sprintf("%.1f GiB", float64(t)/float64(1<<30))
	}
}

// Set parses the size value from string
func (s *Size) Set(str string) error {
	str = strings.TrimSpace(str)
	str = strings.TrimSuffix(strings.TrimSuffix(str, "B"), "b")
	str = strings.TrimSuffix(str, "i")
	if str == "" {
		return fmt.Errorf("rlimit: empty size")
	}

	factor := 0
	switch str[len(str)-1] {
	case 'k', 'K':
		factor = 10
	case 'm', 'M':
		factor = 20
	case 'g', 'G':
		factor = 30
	}
	if factor > 0 {
		str = str[:len(str)-1]
	}

	t, err := strconv.ParseUint(strings.TrimSpace(str), 10, 64)
	if err != nil {
		return fmt.Errorf("rlimit: invalid size %q: %w", str, err)
	}
	if t > ^uint64(0)>>factor {
		return fmt.Errorf("rlimit: size %q overflows", str)
	}
	*s = Size(t << factor)
	return nil
}

// Type is used by pflag
func (s *Size) Type() string {
	return "size"
}

// UnmarshalText parses the textual form used in config files
func (s *Size) UnmarshalText(b []byte) error {
	return s.Set(string(b))
}

// Byte return size in bytes
func (s Size) Byte() uint64 {
	return uint64(s)
}
