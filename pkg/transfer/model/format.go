package model

import "fmt"

// Format selects the unit used to display byte counts. Scaling is decimal
// (1 KB = 1000 B, 1 MB = 1e6 B) on every reporting path.
type Format string

const (
	// FormatB displays raw byte counts.
	FormatB = Format("B")
	// FormatKB displays kilobytes.
	FormatKB = Format("KB")
	// FormatMB displays megabytes.
	FormatMB = Format("MB")
)

// ParseFormat converts a CLI flag value into a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatB, FormatKB, FormatMB:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format %q (must be B, KB or MB)", s)
	}
}

// Divisor returns the number of bytes per unit of this Format.
func (f Format) Divisor() float64 {
	switch f {
	case FormatKB:
		return 1000
	case FormatMB:
		return 1e6
	default:
		return 1
	}
}

// Scale converts a byte count into this Format's unit.
func (f Format) Scale(bytes int64) float64 {
	return float64(bytes) / f.Divisor()
}

func (f Format) String() string {
	return string(f)
}
