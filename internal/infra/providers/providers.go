package providers

import (
	"context"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/totegamma/cozykost/internal/config"
	"github.com/totegamma/cozykost/internal/infra/database"
	"github.com/totegamma/cozykost/internal/infra/gateway"
	"github.com/totegamma/cozykost/internal/infra/repository"
	"github.com/totegamma/cozykost/internal/service"
	"github.com/totegamma/cozykost/internal/usecase"
)

// NewDatabase opens a Postgres connection using the configured DSN.
func NewDatabase(conf config.Server) (*gorm.DB, error) {
	return database.NewPostgres(conf.PostgresDsn, conf.SlowQueryThreshold)
}

// MigrateDatabase applies migrations for the application models.
func MigrateDatabase(db *gorm.DB) error {
	return database.MigratePostgres(db)
}

// NewRedis connects to redis and checks that it answers.
func NewRedis(ctx context.Context, conf config.Server) (*redis.Client, error) {
	rdb := database.NewRedis(conf.RedisAddr, conf.RedisPassword, conf.RedisDB)
	if err := database.PingRedis(ctx, rdb); err != nil {
		return nil, err
	}
	return rdb, nil
}

// NewMemcache creates a memcache client.
func NewMemcache(addr string) *memcache.Client {
	return database.NewMemcached(addr)
}

// NewDocumentRepository returns the postgres document store, fronted by memcache when
// an address is configured.
func NewDocumentRepository(db *gorm.DB, conf config.Server) usecase.DocumentRepository {
	documents := repository.NewDocumentRepository(db)
	if conf.MemcachedAddr == "" {
		return documents
	}
	return repository.NewCachedDocumentRepository(documents, NewMemcache(conf.MemcachedAddr))
}

// NewIDTokenVerifier returns the Firebase verifier, or nil when Firebase is not configured.
func NewIDTokenVerifier(ctx context.Context, conf config.Config) (service.IDTokenVerifier, error) {
	if !conf.FirebaseEnabled() {
		return nil, nil
	}
	verifier, err := gateway.NewFirebaseVerifier(ctx, conf.Server.FirebaseProjectID, conf.Server.FirebaseCredentials)
	if err != nil {
		return nil, err
	}
	return verifier, nil
}
