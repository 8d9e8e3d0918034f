package comms

import (
	"encoding/binary"
	"hash/fnv"

	"wasteland.fm/internal/radio/device"
)

const noiseRunes = "#*~%"

// Reach decides whether a transmission from a tier arrives across hops and returns the
// distance its text is garbled by (0 for a clear signal). hops < 0 means the nodes are not
// connected.
func Reach(r device.Range, hops int, sameRegion bool, cfg Config) (delivered bool, garble int) {
	switch r {
	case device.RangeNode:
		if hops < 0 || hops > 1 {
			return false, 0
		}
		return true, hops
	case device.RangeRegion:
		if sameRegion {
			return true, 0
		}
		if hops >= 0 && hops <= cfg.RegionSpillHops {
			return true, hops
		}
		return false, 0
	case device.RangeGlobal:
		if hops < 0 {
			return true, 1
		}
		if hops > cfg.GlobalClearHops {
			return true, hops - cfg.GlobalClearHops
		}
		return true, 0
	}
	return false, 0
}

// Severity is the percentage of characters lost at distance hops for a tier.
func Severity(distance int, r device.Range) int {
	if distance <= 0 {
		return 0
	}
	var per int
	switch r {
	case device.RangeNode:
		per = 30
	case device.RangeRegion:
		per = 20
	case device.RangeScanner:
		per = 15
	default:
		per = 10
	}
	s := per * distance
	if s > 80 {
		s = 80
	}
	return s
}

// Garble corrupts text as a pure function of (text, distance, tier): the same inputs always give
// the same output.
func Garble(text string, distance int, r device.Range) string {
	sev := Severity(distance, r)
	if sev == 0 || text == "" {
		return text
	}
	out := []rune(text)
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], uint64(distance))
	for i, c := range out {
		if c == ' ' {
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(text))
		h.Write(seed[:])
		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], uint64(i))
		h.Write(idx[:])
		sum := h.Sum64()
		if int(sum%100) < sev {
			out[i] = rune(noiseRunes[(sum/100)%uint64(len(noiseRunes))])
		}
	}
	return string(out)
}
