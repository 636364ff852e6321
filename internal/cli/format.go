package cli

import (
	"fmt"
	"strings"
	"time"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// ProgressBar renders percent (clamped to 0..100) as a fixed-width bar.
func ProgressBar(percent, width int) string {
	percent = min(max(percent, 0), 100)
	filled := percent * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "] " + fmt.Sprintf("%3d%%", percent)
}

// StageLabel turns a stage name like "dish_understanding" into
// "Dish understanding".
func StageLabel(stage string) string {
	s := strings.ReplaceAll(stage, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
