package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DefaultLabelName is the contact label used when none is configured.
const DefaultLabelName = "ORGANIZATION"

// Legal standing range.
const (
	MinStanding = -10.0
	MaxStanding = 10.0
)

// BaseScopes are required from every synced character regardless of state.
var BaseScopes = []string{
	"esi-characters.read_contacts.v1",
	"esi-characters.write_contacts.v1",
}

// SyncMode governs how desired standings are reconciled against a character's contacts.
type SyncMode string

const (
	SyncModeMerge    SyncMode = "merge"
	SyncModeReplace  SyncMode = "replace"
	SyncModePreserve SyncMode = "preserve"
)

// Valid reports whether m is one of the known modes.
func (m SyncMode) Valid() bool {
	switch m {
	case SyncModeMerge, SyncModeReplace, SyncModePreserve:
		return true
	}
	return false
}

// ParseSyncMode parses a mode name. Matching is case-insensitive.
func ParseSyncMode(raw string) (SyncMode, error) {
	m := SyncMode(strings.ToLower(strings.TrimSpace(raw)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown sync mode %q (want merge, replace or preserve)", raw)
	}
	return m, nil
}

// MigrateLegacyReplaceContacts converts the legacy STANDINGSSYNC_REPLACE_CONTACTS value.
// Booleans map true to replace and false to preserve; strings may also carry a mode name.
// ok is false when the value is unset.
func MigrateLegacyReplaceContacts(v any) (mode SyncMode, ok bool, err error) {
	switch val := v.(type) {
	case nil:
		return "", false, nil
	case bool:
		if val {
			return SyncModeReplace, true, nil
		}
		return SyncModePreserve, true, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return "", false, nil
		}
		if b, perr := strconv.ParseBool(s); perr == nil {
			return MigrateLegacyReplaceContacts(b)
		}
		m, perr := ParseSyncMode(s)
		if perr != nil {
			return "", false, fmt.Errorf("STANDINGSSYNC_REPLACE_CONTACTS: %w", perr)
		}
		return m, true, nil
	default:
		return "", false, fmt.Errorf("STANDINGSSYNC_REPLACE_CONTACTS: unsupported value type %T", v)
	}
}

// Settings is the typed, validated standings configuration handed to services at construction.
// It is a value type; the scope map is private and copied on every read.
type Settings struct {
	LabelName               string
	SyncInterval            time.Duration
	SyncTimeout             time.Duration
	DefaultStanding         float64
	Mode                    SyncMode
	ValidateInterval        time.Duration
	StaggerDelay            time.Duration
	Concurrency             int
	AuthFailureThreshold    int
	AutoRevokeOnAuthFailure bool
	AutoRevocationRequests  bool

	scopeRequirements map[string][]string
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	s, err := StandingsOptions{
		LabelName:               DefaultLabelName,
		SyncIntervalMinutes:     30,
		SyncTimeoutMinutes:      180,
		DefaultStanding:         5.0,
		ValidateIntervalMinutes: 360,
		StaggerSeconds:          5,
		Concurrency:             4,
		AuthFailureThreshold:    3,
		AutoRevocationRequests:  true,
	}.Settings()
	if err != nil {
		panic(err)
	}
	return s
}

// Settings validates the raw options and converts them to Settings.
func (o StandingsOptions) Settings() (Settings, error) {
	if err := validate.Struct(o); err != nil {
		return Settings{}, fmt.Errorf("standings options: %w", err)
	}

	mode := SyncModeMerge
	legacy, hasLegacy, err := MigrateLegacyReplaceContacts(o.LegacyReplaceContacts)
	if err != nil {
		return Settings{}, err
	}
	if hasLegacy {
		mode = legacy
	}
	if strings.TrimSpace(o.SyncMode) != "" {
		if mode, err = ParseSyncMode(o.SyncMode); err != nil {
			return Settings{}, fmt.Errorf("STANDINGS_SYNC_MODE: %w", err)
		}
	}

	scopes, err := decodeScopeRequirements(o.ScopeRequirements)
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		LabelName:               strings.TrimSpace(o.LabelName),
		SyncInterval:            time.Duration(o.SyncIntervalMinutes) * time.Minute,
		SyncTimeout:             time.Duration(o.SyncTimeoutMinutes) * time.Minute,
		DefaultStanding:         o.DefaultStanding,
		Mode:                    mode,
		ValidateInterval:        time.Duration(o.ValidateIntervalMinutes) * time.Minute,
		StaggerDelay:            time.Duration(o.StaggerSeconds) * time.Second,
		Concurrency:             o.Concurrency,
		AuthFailureThreshold:    o.AuthFailureThreshold,
		AutoRevokeOnAuthFailure: o.AuthFailureAutoRevoke,
		AutoRevocationRequests:  o.AutoRevocationRequests,
		scopeRequirements:       scopes,
	}, nil
}

// WithScopeRequirements returns a copy of s using the given per-state extra scopes.
func (s Settings) WithScopeRequirements(req map[string][]string) Settings {
	s.scopeRequirements = copyScopes(req)
	return s
}

// RequiredScopes returns the base scopes plus any extra scopes configured for state, sorted.
func (s Settings) RequiredScopes(state string) []string {
	out := slices.Clone(BaseScopes)
	out = append(out, s.scopeRequirements[normalizeState(state)]...)
	slices.Sort(out)
	return slices.Compact(out)
}

// ScopeRequirements returns a copy of the per-state extra scope map.
func (s Settings) ScopeRequirements() map[string][]string {
	return copyScopes(s.scopeRequirements)
}

// StandingInRange reports whether v is a legal standing value.
func (s Settings) StandingInRange(v float64) bool {
	return v >= MinStanding && v <= MaxStanding
}

func copyScopes(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for state, scopes := range in {
		key := normalizeState(state)
		out[key] = append(out[key], scopes...)
	}
	return out
}

// State names are matched case-insensitively; viper lowercases map keys read from files.
func normalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

// decodeScopeRequirements accepts a YAML map (state -> list) or a JSON object in a string,
// which is how the value arrives from the environment.
func decodeScopeRequirements(raw any) (map[string][]string, error) {
	out := map[string][]string{}
	switch val := raw.(type) {
	case nil:
		return out, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return out, nil
		}
		var parsed map[string][]string
		if err := json.Unmarshal([]byte(val), &parsed); err != nil {
			return nil, fmt.Errorf("STANDINGS_SCOPE_REQUIREMENTS: expected JSON object of scope lists: %w", err)
		}
		out = copyScopes(parsed)
	case map[string][]string:
		out = copyScopes(val)
	case map[string]any:
		for state, v := range val {
			list, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("STANDINGS_SCOPE_REQUIREMENTS[%s]: expected a list of scopes", state)
			}
			for _, item := range list {
				scope, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("STANDINGS_SCOPE_REQUIREMENTS[%s]: scope must be a string", state)
				}
				out[normalizeState(state)] = append(out[normalizeState(state)], scope)
			}
		}
	default:
		return nil, fmt.Errorf("STANDINGS_SCOPE_REQUIREMENTS: unsupported value type %T", raw)
	}

	for state, scopes := range out {
		for _, scope := range scopes {
			if strings.TrimSpace(scope) == "" {
				return nil, fmt.Errorf("STANDINGS_SCOPE_REQUIREMENTS[%s]: empty scope", state)
			}
		}
	}
	return out, nil
}
