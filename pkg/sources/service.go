// Package sources is the content-addressed store for raw ingested payloads.
package sources

import (
	"context"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/repositories/source"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/blob"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/validation"
)

type Service struct {
	repo   *source.Repository
	store  blob.Store
	logger ectologger.Logger
}

func NewService(repo *source.Repository, store blob.Store, logger ectologger.Logger) *Service {
	return &Service{
		repo:   repo,
		store:  store,
		logger: logger,
	}
}

// Put stores req's payload once per (owner, content hash) and returns the
// single Source row for it. Repeated puts of the same bytes return the
// existing row; a row left pending or failed is retried when bytes are supplied.
func (s *Service) Put(ctx context.Context, req models.PutSourceRequest) (_ *models.Source, err error) {
	ctx, span := tracing.StartSpan(ctx, "sources.Service.Put")
	defer span.End()
	defer metrics.RecordOperation("put_source", time.Now(), &err)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := apperror.RequireOwner(req.Owner); err != nil {
		return nil, err
	}

	hash, err := contentHash(req)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByHash(ctx, req.Owner, hash)
	if err != nil && !apperror.Is(err, apperror.CodeNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.StorageStatus != models.StorageStatusUploaded && req.Content != nil {
			return s.upload(ctx, existing, req.Content)
		}
		return existing, nil
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	src := &models.Source{
		ID:            uuid.NewString(),
		Owner:         req.Owner,
		ContentHash:   hash,
		StorageStatus: models.StorageStatusPending,
		MimeType:      req.MimeType,
		ByteSize:      int64(len(req.Content)),
		SourceType:    req.SourceType,
		Metadata:      database.NewJSONB(metadata),
	}

	created, err := s.repo.Create(ctx, src)
	if err != nil {
		return nil, err
	}
	if !created {
		// a concurrent put won the insert; it owns the blob write
		return s.repo.GetByHash(ctx, req.Owner, hash)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id":    src.ID,
		"content_hash": hash,
		"byte_size":    src.ByteSize,
	}).Debug("Created source")

	if req.Content == nil {
		return src, nil
	}
	return s.upload(ctx, src, req.Content)
}

// Get returns the source with id. Sources of other owners are reported as missing.
func (s *Service) Get(ctx context.Context, owner, id string) (_ *models.Source, err error) {
	ctx, span := tracing.StartSpan(ctx, "sources.Service.Get")
	defer span.End()
	defer metrics.RecordOperation("get_source", time.Now(), &err)

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	return s.repo.Get(ctx, owner, id)
}

// Content reads a source's bytes back from the blob store.
func (s *Service) Content(ctx context.Context, owner, id string) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "sources.Service.Content")
	defer span.End()

	if err := apperror.RequireOwner(owner); err != nil {
		return nil, err
	}

	src, err := s.repo.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if src.StorageStatus != models.StorageStatusUploaded {
		return nil, apperror.Newf(apperror.CodeNotFound, "source content is %s", src.StorageStatus).WithSubject("source", id)
	}
	return s.store.Get(ctx, blobKey(owner, src.ContentHash))
}

func (s *Service) upload(ctx context.Context, src *models.Source, content []byte) (*models.Source, error) {
	key := blobKey(src.Owner, src.ContentHash)

	location, err := s.store.Put(ctx, key, content, src.MimeType)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source_id": src.ID}).Error("Failed to write source blob")
		if updateErr := s.repo.UpdateStorage(ctx, src.Owner, src.ID, models.StorageStatusFailed, "", 0); updateErr != nil {
			s.logger.WithContext(ctx).WithError(updateErr).Error("Failed to mark source failed")
		}
		return nil, apperror.StorageWriteFailed(err, "failed to write source blob").WithSubject("source", src.ID)
	}

	size := int64(len(content))
	if err := s.repo.UpdateStorage(ctx, src.Owner, src.ID, models.StorageStatusUploaded, location, size); err != nil {
		return nil, err
	}

	src.StorageStatus = models.StorageStatusUploaded
	src.StorageLocation = location
	src.ByteSize = size
	return src, nil
}

func contentHash(req models.PutSourceRequest) (string, error) {
	supplied := strings.ToLower(req.ContentHash)
	if req.Content == nil {
		if supplied == "" {
			return "", apperror.InvalidArgument("either content or content_hash is required")
		}
		return supplied, nil
	}

	computed := fingerprint.ContentHash(req.Content)
	if supplied != "" && supplied != computed {
		return "", apperror.InvalidArgument("content_hash %s does not match content (%s)", supplied, computed).WithField("content_hash")
	}
	return computed, nil
}

// blobKey keeps owners apart in shared buckets without exposing the raw owner id.
func blobKey(owner, hash string) string {
	return fingerprint.HashWithDomain(fingerprint.DomainOwner, []byte(owner))[:16] + "/" + hash
}
