// Package testutil builds migrated SQLite databases and fixtures for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/db"
	"github.com/Ramsey-B/fern/internal/appctx"
	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Logger returns a logger that discards everything.
func Logger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

// DB opens a fresh SQLite database in t's temp dir and applies every migration.
func DB(t *testing.T) database.DB {
	t.Helper()

	logger := Logger()
	conn, err := database.Open(context.Background(), database.OpenConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "fern.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{Migrations: db.Migrations})
	require.NoError(t, migrations.Migrate(conn))

	return conn
}

// Context returns a background context scoped to owner.
func Context(owner string) context.Context {
	ctx := appctx.SetOwnerID(context.Background(), owner)
	return appctx.SetActorID(ctx, "test")
}

// Source inserts a source row for owner so observations can reference it.
func Source(t *testing.T, conn database.DB, owner string) *models.Source {
	t.Helper()

	content := uuid.NewString()
	src := &models.Source{
		ID:            uuid.NewString(),
		Owner:         owner,
		ContentHash:   fingerprint.ContentHash([]byte(content)),
		StorageStatus: models.StorageStatusUploaded,
		MimeType:      "text/plain",
		ByteSize:      int64(len(content)),
		SourceType:    "test",
		Metadata:      database.NewJSONB(map[string]any{}),
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	ib := conn.Flavor().NewInsertBuilder()
	ib.InsertInto("sources")
	ib.Cols("id", "owner", "content_hash", "storage_location", "storage_status", "mime_type", "byte_size", "source_type", "metadata", "created_at", "updated_at")
	ib.Values(src.ID, src.Owner, src.ContentHash, "", src.StorageStatus, src.MimeType, src.ByteSize, src.SourceType, src.Metadata, src.CreatedAt, src.UpdatedAt)
	query, args := ib.Build()
	_, err := conn.ExecContext(context.Background(), query, args...)
	require.NoError(t, err)

	return src
}

// Entity inserts an active entity with a random id.
func Entity(t *testing.T, conn database.DB, owner, entityType, name string) *models.Entity {
	t.Helper()

	e := &models.Entity{
		ID:            uuid.NewString(),
		Owner:         owner,
		EntityType:    entityType,
		CanonicalName: name,
		IdentityKey:   uuid.NewString(),
	}
	created, err := entity.NewRepository(conn, Logger()).Create(context.Background(), e)
	require.NoError(t, err)
	require.True(t, created)
	return e
}

// Relationship inserts an active edge from source to target.
func Relationship(t *testing.T, conn database.DB, owner, sourceID, targetID string, relType models.RelationshipType) *models.Relationship {
	t.Helper()

	rel := &models.Relationship{
		ID:               uuid.NewString(),
		Owner:            owner,
		SourceEntityID:   sourceID,
		TargetEntityID:   targetID,
		RelationshipType: relType,
	}
	created, err := relationship.NewRepository(conn, Logger()).Create(context.Background(), rel)
	require.NoError(t, err)
	require.True(t, created)
	return rel
}
