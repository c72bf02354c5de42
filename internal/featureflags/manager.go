// Package featureflags switches optional parts of the HTTP surface on and off.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Flags recognised by the server.
const (
	ForceSync       = "force_sync"
	DirectStandings = "direct_standings"
	CSVExport       = "csv_export"
)

type rule struct {
	on      bool
	percent int
}

// Manager evaluates flags parsed from a list such as "force_sync=on,csv_export=25%".
// Unknown names are kept so deployments can stage flags ahead of the code.
type Manager struct {
	rules map[string]rule
}

// NewManager parses raw. Malformed pairs are skipped and reported in the returned error,
// which callers may log and otherwise ignore.
func NewManager(raw string) (*Manager, error) {
	m := &Manager{rules: make(map[string]rule)}
	var bad []string

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name, value = normalize(name), normalize(value)
		if !ok || name == "" {
			bad = append(bad, pair)
			continue
		}
		r, ok := parseRule(value)
		if !ok {
			bad = append(bad, pair)
			continue
		}
		m.rules[name] = r
	}

	if len(bad) > 0 {
		return m, fmt.Errorf("ignored malformed feature flags: %s", strings.Join(bad, ", "))
	}
	return m, nil
}

func parseRule(value string) (rule, bool) {
	switch value {
	case "on", "true", "1":
		return rule{on: true, percent: 100}, true
	case "off", "false", "0":
		return rule{}, true
	}
	if pct, found := strings.CutSuffix(value, "%"); found {
		n, err := strconv.Atoi(pct)
		if err != nil || n < 0 || n > 100 {
			return rule{}, false
		}
		return rule{on: n > 0, percent: n}, true
	}
	return rule{}, false
}

// Enabled reports whether name is on for userID. Percentage rollouts place each user in a
// stable bucket; userID 0 only passes fully enabled flags. A nil manager enables nothing.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}
	r, ok := m.rules[normalize(name)]
	if !ok || !r.on {
		return false
	}
	if r.percent >= 100 {
		return true
	}
	return userID != 0 && bucket(name, userID) < r.percent
}

// Names returns the configured flag names in order.
func (m *Manager) Names() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.rules))
	for name := range m.rules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Snapshot evaluates every configured flag for userID.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool)
	for _, name := range m.Names() {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s:%d", normalize(name), userID)
	return int(h.Sum32() % 100)
}
