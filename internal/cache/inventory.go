package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	PermissionsKeyPrefix = "perms:%d"
	EntityNameKeyPrefix  = "entity:name:%d"
	StandingsKey         = "standings:snapshot"
)

const (
	PermissionsTTL = time.Minute
	EntityNameTTL  = 24 * time.Hour
	StandingsTTL   = 30 * time.Second
)

func PermissionsKey(userID uint) string {
	return fmt.Sprintf(PermissionsKeyPrefix, userID)
}

func EntityNameKey(entityID int64) string {
	return fmt.Sprintf(EntityNameKeyPrefix, entityID)
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidatePermissions(ctx context.Context, userID uint) {
	Invalidate(ctx, PermissionsKey(userID))
}

// InvalidateStandings drops the cached standings list after any change to the approved set.
func InvalidateStandings(ctx context.Context) {
	Invalidate(ctx, StandingsKey)
}
