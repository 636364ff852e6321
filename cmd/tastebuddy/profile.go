package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/rs/zerolog/log"
)

// loadProfile reads the profile file (if it exists) and appends the
// --allergy flags. A flag for an allergen already in the file replaces it.
func loadProfile(path string, flags []string) (scan.AllergenProfile, error) {
	var profile scan.AllergenProfile

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Debug().Str("path", path).Msg("No allergen profile file")
		case err != nil:
			return nil, fmt.Errorf("read profile: %w", err)
		default:
			if profile, err = decodeProfile(data); err != nil {
				return nil, fmt.Errorf("parse profile %s: %w", path, err)
			}
		}
	}

	for _, f := range flags {
		entry, err := parseAllergyFlag(f)
		if err != nil {
			return nil, err
		}
		profile = upsert(profile, entry)
	}
	return profile, nil
}

// decodeProfile accepts a bare list or {"allergens": [...]}.
func decodeProfile(data []byte) (scan.AllergenProfile, error) {
	var list scan.AllergenProfile
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Allergens scan.AllergenProfile `json:"allergens"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Allergens, nil
}

// parseAllergyFlag parses "name[:severity]". Severity defaults to moderate.
func parseAllergyFlag(s string) (scan.ProfileEntry, error) {
	name, sev, hasSev := strings.Cut(strings.TrimSpace(s), ":")
	t := scan.MatchAllergen(name)
	if t == scan.AllergenUnknown {
		return scan.ProfileEntry{}, fmt.Errorf("unknown allergen %q", name)
	}
	entry := scan.ProfileEntry{Type: t, Severity: scan.SeverityModerate}
	if hasSev {
		parsed, ok := scan.ParseSeverity(sev)
		if !ok {
			return scan.ProfileEntry{}, fmt.Errorf("unknown severity %q for %s (use mild, moderate or severe)", sev, name)
		}
		entry.Severity = parsed
	}
	return entry, nil
}

func upsert(p scan.AllergenProfile, e scan.ProfileEntry) scan.AllergenProfile {
	for i := range p {
		if p[i].Type == e.Type {
			p[i] = e
			return p
		}
	}
	return append(p, e)
}
