// Package timecode converts between HH:MM:SS:FF timecodes and frame counts.
package timecode

import (
	"fmt"
	"math"
	"math/bits"
	"regexp"
	"strconv"
	"strings"
)

// DefaultFrameRate is used when a project has never configured its own rate.
const DefaultFrameRate = 24

var timecodePattern = regexp.MustCompile(`^(-?)(\d{2,}):(\d{2}):(\d{2}):(\d{2,})$`)

// ParseFrameRate reads a project frame rate setting. Only positive integers are valid.
func ParseFrameRate(raw string) (int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	fps, err := strconv.Atoi(trimmed)
	if err != nil || fps <= 0 {
		return 0, false
	}
	return fps, true
}

// Parse returns the frame count of tc at fps. A leading minus sign, as written by
// Format, yields a negative count.
// The second return value is false for malformed input, a non-positive rate, or a
// count that does not fit in an int.
func Parse(tc string, fps int) (int, bool) {
	if fps <= 0 {
		return 0, false
	}
	match := timecodePattern.FindStringSubmatch(strings.TrimSpace(tc))
	if match == nil {
		return 0, false
	}
	parts := make([]uint64, 4)
	for index := range parts {
		value, err := strconv.ParseUint(match[index+2], 10, 64)
		if err != nil {
			return 0, false
		}
		parts[index] = value
	}
	hours, minutes, seconds, frames := parts[0], parts[1], parts[2], parts[3]

	hi, hourSeconds := bits.Mul64(hours, 3600)
	if hi != 0 {
		return 0, false
	}
	totalSeconds, carry := bits.Add64(hourSeconds, minutes*60+seconds, 0)
	if carry != 0 {
		return 0, false
	}
	hi, secondFrames := bits.Mul64(totalSeconds, uint64(fps))
	if hi != 0 {
		return 0, false
	}
	magnitude, carry := bits.Add64(secondFrames, frames, 0)
	if carry != 0 {
		return 0, false
	}

	if match[1] == "-" {
		if magnitude > uint64(math.MaxInt)+1 {
			return 0, false
		}
		if magnitude == 0 {
			return 0, true
		}
		return -int(magnitude-1) - 1, true
	}
	if magnitude > uint64(math.MaxInt) {
		return 0, false
	}
	return int(magnitude), true
}

// Format renders frames at fps. Negative counts get a leading minus sign.
// A non-positive rate yields an empty string.
func Format(frames int, fps int) string {
	if fps <= 0 {
		return ""
	}
	sign := ""
	magnitude := uint64(frames)
	if frames < 0 {
		sign = "-"
		magnitude = uint64(-(frames + 1)) + 1
	}
	rate := uint64(fps)
	totalSeconds := magnitude / rate
	remainder := magnitude % rate
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	return fmt.Sprintf("%s%02d:%02d:%02d:%02d", sign, hours, minutes, seconds, remainder)
}

// Interval returns out minus in as a timecode, or "" when either boundary is unusable
// or the difference does not fit in an int.
func Interval(inTC, outTC string, fps int) string {
	start, ok := Parse(inTC, fps)
	if !ok {
		return ""
	}
	end, ok := Parse(outTC, fps)
	if !ok {
		return ""
	}
	if (start < 0 && end > math.MaxInt+start) || (start > 0 && end < math.MinInt+start) {
		return ""
	}
	return Format(end-start, fps)
}

// IntervalForRate is Interval with the frame rate still in its stored string form.
func IntervalForRate(inTC, outTC, frameRate string) string {
	fps, ok := ParseFrameRate(frameRate)
	if !ok {
		return ""
	}
	return Interval(inTC, outTC, fps)
}
