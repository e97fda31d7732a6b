package storage

import (
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"audittrail/pkg/apperrors"
)

// Kind selects a backend implementation. Selection happens once at startup
// over this closed set; there is no dynamic lookup.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindPostgres Kind = "postgres"
	KindMongo    Kind = "mongo"
	KindRedis    Kind = "redis"
)

// Deps carries the connections a backend may need. Only the field matching
// the requested kind has to be set.
type Deps struct {
	DB    *sql.DB
	Mongo *mongo.Database
	Redis *redis.Client
}

// New builds the backend for the given kind. Unknown kinds and missing
// connections are configuration errors, surfaced at startup.
func New(kind Kind, deps Deps) (Backend, error) {
	switch kind {
	case KindMemory:
		return NewMemoryBackend(), nil
	case KindPostgres:
		if deps.DB == nil {
			return nil, apperrors.New(apperrors.KindConfiguration, "postgres backend requires a database connection")
		}
		return NewPostgresBackend(deps.DB), nil
	case KindMongo:
		if deps.Mongo == nil {
			return nil, apperrors.New(apperrors.KindConfiguration, "mongo backend requires a database handle")
		}
		return NewMongoBackend(deps.Mongo), nil
	case KindRedis:
		if deps.Redis == nil {
			return nil, apperrors.New(apperrors.KindConfiguration, "redis backend requires a client")
		}
		return NewRedisBackend(deps.Redis), nil
	default:
		return nil, apperrors.New(apperrors.KindConfiguration,
			fmt.Sprintf("unknown storage backend %q", kind))
	}
}
