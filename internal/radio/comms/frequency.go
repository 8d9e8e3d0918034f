package comms

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"wasteland.fm/internal/protocol"
)

var freqPattern = regexp.MustCompile(`^[0-9]{1,3}\.[0-9]$`)

// Band is the tunable frequency range in tenths of a unit.
type Band struct {
	Min, Max int
}

func ParseBand(minFreq, maxFreq string) (Band, error) {
	lo, err := tenths(minFreq)
	if err != nil {
		return Band{}, fmt.Errorf("min_frequency: %w", err)
	}
	hi, err := tenths(maxFreq)
	if err != nil {
		return Band{}, fmt.Errorf("max_frequency: %w", err)
	}
	if lo > hi {
		return Band{}, fmt.Errorf("min_frequency %s above max_frequency %s", minFreq, maxFreq)
	}
	return Band{Min: lo, Max: hi}, nil
}

// Normalize validates a frequency like "104.5" and returns its canonical spelling.
func (b Band) Normalize(freq string) (string, error) {
	freq = strings.TrimSpace(freq)
	if !freqPattern.MatchString(freq) {
		return "", protocol.Validation("frequency %q must look like NNN.N", freq)
	}
	v, _ := tenths(freq)
	if v < b.Min || v > b.Max {
		return "", protocol.Validation("frequency %s outside band %s-%s", freq, format(b.Min), format(b.Max))
	}
	return format(v), nil
}

func tenths(s string) (int, error) {
	whole, frac, ok := strings.Cut(s, ".")
	if !ok || len(frac) != 1 {
		return 0, fmt.Errorf("bad frequency %q", s)
	}
	w, err := strconv.Atoi(whole)
	if err != nil {
		return 0, fmt.Errorf("bad frequency %q", s)
	}
	f, err := strconv.Atoi(frac)
	if err != nil {
		return 0, fmt.Errorf("bad frequency %q", s)
	}
	return w*10 + f, nil
}

func format(t int) string { return fmt.Sprintf("%d.%d", t/10, t%10) }
