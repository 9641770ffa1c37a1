package sources_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/source"
	"github.com/Ramsey-B/fern/internal/testutil"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/blob"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/sources"
)

// flakyStore fails every Put until healthy is set.
type flakyStore struct {
	blob.Store
	healthy bool
	puts    int
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.puts++
	if !f.healthy {
		return "", errors.New("bucket unavailable")
	}
	return f.Store.Put(ctx, key, data, contentType)
}

func newService(t *testing.T) (*sources.Service, *flakyStore) {
	t.Helper()
	db := testutil.DB(t)
	fsStore, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	store := &flakyStore{Store: fsStore, healthy: true}
	return sources.NewService(source.NewRepository(db, testutil.Logger()), store, testutil.Logger()), store
}

func TestService_PutIsContentAddressed(t *testing.T) {
	svc, store := newService(t)
	ctx := testutil.Context("owner-a")

	first, err := svc.Put(ctx, models.PutSourceRequest{Owner: "owner-a", Content: []byte("invoice #1"), MimeType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, models.StorageStatusUploaded, first.StorageStatus)
	assert.Equal(t, fingerprint.ContentHash([]byte("invoice #1")), first.ContentHash)

	second, err := svc.Put(ctx, models.PutSourceRequest{Owner: "owner-a", Content: []byte("invoice #1")})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.puts, "a second put of the same bytes must not rewrite the blob")

	other, err := svc.Put(ctx, models.PutSourceRequest{Owner: "owner-b", Content: []byte("invoice #1")})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	content, err := svc.Content(ctx, "owner-a", first.ID)
	require.NoError(t, err)
	assert.Equal(t, "invoice #1", string(content))
}

func TestService_GetIsOwnerScoped(t *testing.T) {
	svc, _ := newService(t)
	ctx := testutil.Context("owner-a")

	src, err := svc.Put(ctx, models.PutSourceRequest{Owner: "owner-a", Content: []byte("payload")})
	require.NoError(t, err)

	got, err := svc.Get(ctx, "owner-a", src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.ContentHash, got.ContentHash)

	_, err = svc.Get(ctx, "owner-b", src.ID)
	assert.Equal(t, apperror.CodeNotFound, apperror.CodeOf(err))
}

func TestService_PutHashOnly(t *testing.T) {
	svc, store := newService(t)
	ctx := testutil.Context("owner-a")
	hash := fingerprint.ContentHash([]byte("streamed elsewhere"))

	src, err := svc.Put(ctx, models.PutSourceRequest{Owner: "owner-a", ContentHash: hash})
	require.NoError(t, err)
	assert.Equal(t, models.StorageStatusPending, src.StorageStatus)
	assert.Zero(t, store.puts)

	// supplying the bytes later completes the pending row
	completed, err := svc.Put(ctx, models.PutSourceRequest{Owner: "owner-a", Content: []byte("streamed elsewhere"), ContentHash: hash})
	require.NoError(t, err)
	assert.Equal(t, src.ID, completed.ID)
	assert.Equal(t, models.StorageStatusUploaded, completed.StorageStatus)
	assert.Equal(t, int64(len("streamed elsewhere")), completed.ByteSize)

	stored, err := svc.Get(ctx, "owner-a", src.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StorageStatusUploaded, stored.StorageStatus)
	assert.Equal(t, completed.ByteSize, stored.ByteSize)
}

func TestService_PutRejectsBadRequests(t *testing.T) {
	svc, _ := newService(t)
	ctx := testutil.Context("owner-a")

	tests := []struct {
		name string
		req  models.PutSourceRequest
		code apperror.Code
	}{
		{
			name: "no content and no hash",
			req:  models.PutSourceRequest{Owner: "owner-a"},
			code: apperror.CodeInvalidArgument,
		},
		{
			name: "hash does not match content",
			req:  models.PutSourceRequest{Owner: "owner-a", Content: []byte("a"), ContentHash: fingerprint.ContentHash([]byte("b"))},
			code: apperror.CodeInvalidArgument,
		},
		{
			name: "malformed hash",
			req:  models.PutSourceRequest{Owner: "owner-a", ContentHash: "xyz"},
			code: apperror.CodeInvalidArgument,
		},
		{
			name: "missing owner",
			req:  models.PutSourceRequest{Content: []byte("a")},
			code: apperror.CodeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Put(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperror.CodeOf(err))
		})
	}
}

func TestService_PutRetriesFailedBlobWrite(t *testing.T) {
	svc, store := newService(t)
	ctx := testutil.Context("owner-a")
	store.healthy = false

	_, err := svc.Put(ctx, models.PutSourceRequest{Owner: "owner-a", Content: []byte("report")})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeStorageWriteFailed, apperror.CodeOf(err))
	assert.True(t, apperror.Retryable(err))

	store.healthy = true
	src, err := svc.Put(ctx, models.PutSourceRequest{Owner: "owner-a", Content: []byte("report")})
	require.NoError(t, err)
	assert.Equal(t, models.StorageStatusUploaded, src.StorageStatus)
	assert.Equal(t, 2, store.puts)
}
