// Package activities holds the canonical activity model rules and the per-user metrics aggregator.
package activities

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/fdg312/trailmate/internal/storage"
)

var ErrInvalidRecord = errors.New("invalid activity record")

// Normalizer converts one provider payload into the canonical record. Implementations are pure.
type Normalizer interface {
	Provider() string
	NormalizeActivity(userID string, raw json.RawMessage) (storage.ActivityRecord, error)
}

// NormalizeBatch normalizes every payload, skipping the ones that fail.
// Failures are returned alongside so callers can log them.
func NormalizeBatch(n Normalizer, userID string, raws []json.RawMessage) ([]storage.ActivityRecord, []error) {
	records := make([]storage.ActivityRecord, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		rec, err := n.NormalizeActivity(userID, raw)
		if err == nil {
			err = Validate(rec)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

// Validate checks the fields every canonical record must carry.
func Validate(r storage.ActivityRecord) error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("%w: user_id is empty", ErrInvalidRecord)
	case r.Provider == "":
		return fmt.Errorf("%w: provider is empty", ErrInvalidRecord)
	case r.ProviderActivityID == "":
		return fmt.Errorf("%w: provider_activity_id is empty", ErrInvalidRecord)
	case r.ActivityType == "" || r.ActivityType != strings.ToLower(r.ActivityType):
		return fmt.Errorf("%w: activity_type %q is not a lowercase tag", ErrInvalidRecord, r.ActivityType)
	case r.StartTime.IsZero():
		return fmt.Errorf("%w: start_time is empty", ErrInvalidRecord)
	case r.DurationSeconds < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidRecord)
	}
	return nil
}

var canonicalTypes = map[string]string{
	"run":                "running",
	"running":            "running",
	"trail_run":          "running",
	"virtual_run":        "running",
	"ride":               "cycling",
	"cycling":            "cycling",
	"mountain_bike_ride": "cycling",
	"gravel_ride":        "cycling",
	"ebike_ride":         "cycling",
	"virtual_ride":       "cycling",
	"hike":               "hiking",
	"hiking":             "hiking",
	"walk":               "walking",
	"walking":            "walking",
	"rock_climbing":      "climbing",
	"climbing":           "climbing",
	"bouldering":         "climbing",
	"swim":               "swimming",
	"swimming":           "swimming",
	"weight_training":    "strength",
	"workout":            "workout",
	"yoga":               "yoga",
	"rowing":             "rowing",
	"alpine_ski":         "skiing",
	"backcountry_ski":    "skiing",
	"nordic_ski":         "skiing",
	"snowboard":          "snowboarding",
	"kayaking":           "paddling",
	"canoeing":           "paddling",
	"stand_up_paddling":  "paddling",
}

// CanonicalType maps a provider activity type ("TrailRun", "MountainBikeRide") to a canonical tag.
// Unknown types become their snake_case form.
func CanonicalType(providerType string) string {
	key := snakeCase(strings.TrimSpace(providerType))
	if key == "" {
		return "other"
	}
	if canonical, ok := canonicalTypes[key]; ok {
		return canonical
	}
	return key
}

func snakeCase(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		switch {
		case r == ' ' || r == '-' || r == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		default:
			b.WriteRune(unicode.ToLower(r))
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return strings.Trim(b.String(), "_")
}
