// internal/repository/settings.go
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"filegen/internal/models"
	"filegen/internal/storage/postgres"
	"go.uber.org/zap"
)

func settingsCacheKey(userID string) string {
	return fmt.Sprintf("settings:%s", userID)
}

// Settings serves tenant settings documents, read-through cached. The
// pipeline only ever reads settings; writes belong to the dashboard.
type Settings struct {
	db    *postgres.Client
	cache Cache
	log   *zap.Logger
}

func NewSettings(db *postgres.Client, cache Cache, log *zap.Logger) *Settings {
	return &Settings{db: db, cache: cache, log: log.Named("settings")}
}

// Fetch returns the tenant's settings, or nil when none exist.
func (r *Settings) Fetch(ctx context.Context, userID string) (*models.Settings, error) {
	key := settingsCacheKey(userID)

	if cached, err := r.cache.Get(key); err == nil && cached != nil {
		var settings models.Settings
		if err := json.Unmarshal(cached, &settings); err == nil {
			return &settings, nil
		}
		r.log.Warn("discarding undecodable cache entry", zap.String("userId", userID))
	}

	settings, err := r.db.GetSettings(ctx, userID)
	if err != nil || settings == nil {
		return settings, err
	}

	if data, err := json.Marshal(settings); err == nil {
		if err := r.cache.Put(key, data); err != nil {
			r.log.Warn("failed to cache settings", zap.String("userId", userID), zap.Error(err))
		}
	}
	return settings, nil
}
