package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
)

// ParseOverrideMode accepts a mode name (case-insensitive, '-' or ' ' for '_')
// or its numeric code.
func ParseOverrideMode(value string) (domain.OverrideMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return 0, &domain.InvalidOverrideError{Field: "mode", Reason: "empty mode"}
	}
	if code, err := strconv.Atoi(normalized); err == nil {
		mode := domain.OverrideMode(code)
		if !mode.Valid() {
			return 0, &domain.InvalidOverrideError{Field: "mode", Value: value, Reason: "unknown mode code"}
		}
		return mode, nil
	}
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	for _, mode := range domain.OverrideModes() {
		if mode.String() == normalized {
			return mode, nil
		}
	}
	return 0, &domain.InvalidOverrideError{Field: "mode", Value: value, Reason: "unknown mode"}
}

// ParseOverrideDuration parses "HH:MM" with HH in 00-23 and MM in 00-59.
// A zero duration is rejected, overrides are cleared with mode auto.
func ParseOverrideDuration(value string) (time.Duration, error) {
	hh, mm, found := strings.Cut(strings.TrimSpace(value), ":")
	if !found || len(hh) != 2 || len(mm) != 2 {
		return 0, &domain.InvalidOverrideError{Field: "duration", Value: value, Reason: "expected HH:MM"}
	}
	hours, err := strconv.Atoi(hh)
	if err != nil || hours < 0 || hours > 23 {
		return 0, &domain.InvalidOverrideError{Field: "duration", Value: value, Reason: "hours must be 00-23"}
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, &domain.InvalidOverrideError{Field: "duration", Value: value, Reason: "minutes must be 00-59"}
	}
	d := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	if d == 0 {
		return 0, &domain.InvalidOverrideError{Field: "duration", Value: value, Reason: "duration must be greater than zero"}
	}
	return d, nil
}

// FormatOverrideDuration renders d as "HH:MM", capped at 23:59.
func FormatOverrideDuration(d time.Duration) string {
	d = min(d, 23*time.Hour+59*time.Minute)
	d = max(d, 0)
	minutes := int(d / time.Minute)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
