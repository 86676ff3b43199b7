package scene

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var epochLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseCFTime decodes a CF-conventions time value such as 19782 with units
// "days since 1970-01-01".
func ParseCFTime(units string, v float64) (time.Time, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, fmt.Errorf("time value %v is not finite", v)
	}
	unit, epochStr, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return time.Time{}, fmt.Errorf("time units %q: want \"<unit> since <epoch>\"", units)
	}

	var step time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "seconds", "second", "secs", "sec", "s":
		step = time.Second
	case "minutes", "minute", "mins", "min":
		step = time.Minute
	case "hours", "hour", "hrs", "hr", "h":
		step = time.Hour
	case "days", "day", "d":
		step = 24 * time.Hour
	default:
		return time.Time{}, fmt.Errorf("time units %q: unsupported unit %q", units, unit)
	}

	epochStr = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(epochStr), "UTC"))
	var epoch time.Time
	var err error
	for _, layout := range epochLayouts {
		if epoch, err = time.ParseInLocation(layout, epochStr, time.UTC); err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("time units %q: parse epoch: %w", units, err)
	}

	whole, frac := math.Modf(v)
	return epoch.Add(time.Duration(whole) * step).Add(time.Duration(frac * float64(step))).UTC(), nil
}
