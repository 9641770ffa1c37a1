// Package worker keeps the snapshot cache warm by recomputing snapshots from
// change events.
package worker

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apperror"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

const DefaultConcurrency = 4

// Reducer is the part of snapshot.Service the worker drives.
type Reducer interface {
	Reduce(ctx context.Context, owner string, kind models.SubjectKind, subjectID string) (*models.Snapshot, error)
	Invalidate(ctx context.Context, owner string, kind models.SubjectKind, subjectID string)
}

type subject struct {
	kind models.SubjectKind
	id   string
}

type Worker struct {
	snapshots   Reducer
	entities    *entity.Repository
	concurrency int
	logger      ectologger.Logger
}

func New(snapshots Reducer, entities *entity.Repository, concurrency int, logger ectologger.Logger) *Worker {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Worker{
		snapshots:   snapshots,
		entities:    entities,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Handle is a kafka.MessageHandler. Returning an error leaves the offset
// uncommitted so the event is redelivered.
func (w *Worker) Handle(ctx context.Context, msg *kafka.IncomingMessage) error {
	ev, err := events.Parse(msg)
	if err != nil {
		// redelivery cannot fix a malformed message
		w.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("Skipping undecodable event")
		metrics.WorkerMessagesProcessed.WithLabelValues(msg.EventType(), "skipped").Inc()
		return nil
	}
	return w.HandleEvent(ctx, ev)
}

// HandleEvent invalidates and recomputes the snapshots an event affects.
func (w *Worker) HandleEvent(ctx context.Context, ev events.Event) (err error) {
	ctx, span := tracing.StartSpan(ctx, "worker.Worker.HandleEvent")
	defer span.End()

	status := "success"
	defer func() {
		if err != nil {
			status = "error"
		}
		metrics.WorkerMessagesProcessed.WithLabelValues(string(ev.Type), status).Inc()
	}()

	stale, recompute := affected(ev)

	for _, s := range stale {
		w.snapshots.Invalidate(ctx, ev.Owner, s.kind, s.id)
	}

	return w.reduce(ctx, ev.Owner, recompute)
}

// Warm recomputes the snapshot of every active entity of owner, or of every
// owner when owner is empty. It returns how many snapshots were computed.
func (w *Worker) Warm(ctx context.Context, owner string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "worker.Worker.Warm")
	defer span.End()

	start := time.Now()
	all, err := w.entities.ListAll(ctx, owner)
	if err != nil {
		return 0, err
	}

	byOwner := map[string][]subject{}
	count := 0
	for _, e := range all {
		if !e.IsActive() {
			continue
		}
		byOwner[e.Owner] = append(byOwner[e.Owner], subject{kind: models.SubjectKindEntity, id: e.ID})
		count++
	}

	for o, subjects := range byOwner {
		if err := w.reduce(ctx, o, subjects); err != nil {
			return 0, err
		}
	}

	w.logger.WithContext(ctx).WithFields(map[string]any{
		"owner":    owner,
		"count":    count,
		"duration": time.Since(start),
	}).Info("Warmed snapshot cache")
	return count, nil
}

func (w *Worker) reduce(ctx context.Context, owner string, subjects []subject) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, s := range subjects {
		g.Go(func() error {
			_, err := w.snapshots.Reduce(ctx, owner, s.kind, s.id)
			if apperror.Is(err, apperror.CodeNotFound) {
				w.logger.WithContext(ctx).WithFields(map[string]any{
					"subject_kind": s.kind,
					"subject_id":   s.id,
				}).Warn("Subject of event no longer exists")
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// affected returns the subjects whose cached snapshot is stale and those worth
// recomputing.
func affected(ev events.Event) (stale, recompute []subject) {
	self := subject{kind: ev.SubjectKind, id: ev.SubjectID}

	switch ev.Type {
	case events.EventTypeEntityMerged:
		var payload events.MergePayload
		if err := ev.Decode(&payload); err == nil && payload.DuplicateID != "" {
			stale = append(stale, subject{kind: models.SubjectKindEntity, id: payload.DuplicateID})
		}
		return append(stale, self), []subject{self}
	case events.EventTypeObservationAppended, events.EventTypeSubjectDeleted, events.EventTypeSubjectRestored:
		return []subject{self}, []subject{self}
	case events.EventTypeEntityCreated, events.EventTypeRelationshipCreated:
		return nil, []subject{self}
	}

	return nil, nil
}
