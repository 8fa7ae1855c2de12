// internal/repository/templates.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"filegen/internal/models"
	"filegen/internal/storage/postgres"
	"go.uber.org/zap"
)

// ErrTemplateNotFound mirrors the store-level sentinel.
var ErrTemplateNotFound = postgres.ErrTemplateNotFound

func templateCacheKey(id string) string {
	return fmt.Sprintf("template:%s", id)
}

// Templates serves template descriptors, read-through cached. The pipeline
// never writes templates; the dashboard owns them.
type Templates struct {
	db    *postgres.Client
	cache Cache
	log   *zap.Logger
}

func NewTemplates(db *postgres.Client, cache Cache, log *zap.Logger) *Templates {
	return &Templates{db: db, cache: cache, log: log.Named("templates")}
}

// Fetch returns the template descriptor for id.
func (r *Templates) Fetch(ctx context.Context, id string) (*models.TemplateDescriptor, error) {
	key := templateCacheKey(id)

	if cached, err := r.cache.Get(key); err == nil && cached != nil {
		var tpl models.TemplateDescriptor
		if err := json.Unmarshal(cached, &tpl); err == nil {
			return &tpl, nil
		}
		r.log.Warn("discarding undecodable cache entry", zap.String("templateId", id))
	}

	tpl, err := r.db.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(tpl); err == nil {
		if err := r.cache.Put(key, data); err != nil {
			r.log.Warn("failed to cache template", zap.String("templateId", id), zap.Error(err))
		}
	}
	return tpl, nil
}

// IsTemplateNotFound reports whether err means the template does not exist.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, postgres.ErrTemplateNotFound)
}
