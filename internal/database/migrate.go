package database

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// Migration is one versioned pair of SQL scripts embedded from migrations/.
type Migration struct {
	Version    int
	Name       string
	UpScript   string
	DownScript string
}

func (m Migration) String() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

//go:embed migrations/*.sql
var migrationFS embed.FS

var (
	registered  []Migration
	registerErr error
)

func init() {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		registerErr = err
		return
	}
	registered, registerErr = loadMigrations(sub)
}

// loadMigrations reads NNNNNN_name.up.sql / .down.sql pairs. Every up script needs a down
// script and versions must be unique.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string, len(ups))
	out := make([]Migration, 0, len(ups))
	for _, file := range ups {
		base := strings.TrimSuffix(file, ".up.sql")
		rawVersion, name, ok := strings.Cut(base, "_")
		if !ok || name == "" {
			return nil, fmt.Errorf("migration %s: want NNNNNN_name.up.sql", file)
		}
		version, err := strconv.Atoi(rawVersion)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: version must be a positive number", file)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration %s: version %d already used by %s", file, version, prev)
		}
		seen[version] = file

		up, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		down, err := fs.ReadFile(fsys, base+".down.sql")
		if err != nil {
			return nil, fmt.Errorf("migration %s has no down script: %w", file, err)
		}
		out = append(out, Migration{Version: version, Name: name, UpScript: string(up), DownScript: string(down)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return registered
}

// GetMigrationByVersion looks up one embedded migration.
func GetMigrationByVersion(version int) (Migration, bool) {
	for _, m := range registered {
		if m.Version == version {
			return m, true
		}
	}
	return Migration{}, false
}
