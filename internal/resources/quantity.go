package resources

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrCorrupted is returned when a quantity's encoding matches a known upstream
// reporting defect and its value cannot be trusted.
var ErrCorrupted = errors.New("corrupted quantity encoding")

const (
	bytesPerGiB = 1024 * 1024 * 1024

	// SanityCeilingGiB is the largest memory value accepted from a raw byte count.
	SanityCeilingGiB = 1000.0

	// maxMilliDigits is the longest numeric part a genuine millicore-suffixed
	// value is expected to carry. Anything longer is read as a mislabelled byte count.
	maxMilliDigits = 10
)

var quantityPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)([A-Za-z]*)$`)

// split breaks a raw quantity into its numeric part and unit suffix.
func split(raw string) (number, suffix string, ok bool) {
	m := quantityPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// IsCorrupted reports whether err marks a corrupted quantity
func IsCorrupted(err error) bool {
	return errors.Is(err, ErrCorrupted)
}

// NormalizeMemory converts a raw memory or disk quantity to GiB.
//
// Precedence:
//   - millicore suffix with at most 10 digits: a unit mismatch, reported as 0
//   - millicore suffix with more than 10 digits: a byte count carrying the wrong
//     suffix; converted from bytes and rejected above SanityCeilingGiB
//   - empty or zero: 0
//   - plain integer: a byte count, subject to the same ceiling
//   - Ti/Gi/Mi/Ki (any case) or a bare k: scaled to GiB
//   - anything else: 0
//
// The digit and ceiling heuristics are an approximation. A very large but
// legitimate node can be classified as corrupted.
func NormalizeMemory(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	number, suffix, ok := split(raw)

	if ok && suffix == "m" {
		if integerDigits(number) <= maxMilliDigits {
			return 0, nil
		}
		return bytesToGiB(number)
	}

	if raw == "" || raw == "0" || (ok && isZero(number)) {
		return 0, nil
	}

	if ok && suffix == "" && isInteger(number) {
		return bytesToGiB(number)
	}

	return ConvertSuffixed(raw), nil
}

// ConvertSuffixed scales a binary-suffixed quantity to GiB. Unrecognised
// encodings, including plain numbers, yield 0.
func ConvertSuffixed(raw string) float64 {
	number, suffix, ok := split(raw)
	if !ok {
		return 0
	}
	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0
	}

	switch strings.ToLower(suffix) {
	case "ti":
		return value * 1024
	case "gi":
		return value
	case "mi":
		return value / 1024
	case "ki", "k":
		return value / (1024 * 1024)
	default:
		return 0
	}
}

// NormalizeCPU converts a raw CPU quantity to cores. A millicore suffix is
// divided by 1000, any other value is passed through as a decimal.
func NormalizeCPU(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if strings.HasSuffix(raw, "m") {
		milli, err := strconv.ParseFloat(strings.TrimSuffix(raw, "m"), 64)
		if err != nil || milli < 0 {
			return 0
		}
		return milli / 1000
	}
	cores, err := strconv.ParseFloat(raw, 64)
	if err != nil || cores < 0 || math.IsNaN(cores) || math.IsInf(cores, 0) {
		return 0
	}
	return cores
}

func bytesToGiB(number string) (float64, error) {
	bytes, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, nil
	}
	gib := bytes / bytesPerGiB
	if gib > SanityCeilingGiB {
		return 0, ErrCorrupted
	}
	return gib, nil
}

func integerDigits(number string) int {
	if i := strings.IndexByte(number, '.'); i >= 0 {
		return i
	}
	return len(number)
}

func isInteger(number string) bool {
	return !strings.Contains(number, ".")
}

func isZero(number string) bool {
	v, err := strconv.ParseFloat(number, 64)
	return err == nil && v == 0
}

// Round1 rounds to one decimal place
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Round3 rounds to three decimal places, the precision of a millicore
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Percent returns 100*part/whole rounded to one decimal place, or 0 when whole is 0
func Percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return Round1(100 * part / whole)
}
