package models

import "time"

type LifecycleAction string

const (
	LifecycleActionDelete  LifecycleAction = "delete"
	LifecycleActionRestore LifecycleAction = "restore"
	LifecycleActionMerge   LifecycleAction = "merge"
)

type LifecycleRequest struct {
	SubjectKind SubjectKind `json:"subject_kind" validate:"required,oneof=entity relationship"`
	SubjectID   string      `json:"subject_id" validate:"required"`
	Reason      string      `json:"reason" validate:"required"`
	Actor       string      `json:"actor,omitempty"`
}

// LifecycleEvent is an audit row for delete, restore and merge.
type LifecycleEvent struct {
	ID          string          `json:"id" db:"id"`
	Owner       string          `json:"owner" db:"owner"`
	SubjectKind SubjectKind     `json:"subject_kind" db:"subject_kind"`
	SubjectID   string          `json:"subject_id" db:"subject_id"`
	Action      LifecycleAction `json:"action" db:"action"`
	Reason      string          `json:"reason" db:"reason"`
	Actor       string          `json:"actor" db:"actor"`
	RelatedID   *string         `json:"related_id,omitempty" db:"related_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

type LifecycleResult struct {
	SubjectKind SubjectKind `json:"subject_kind"`
	SubjectID   string      `json:"subject_id"`
	Changed     bool        `json:"changed"`
}
