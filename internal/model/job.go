// SPDX-License-Identifier: MIT

// Package model holds the persistent domain records and the job state machine.
package model

import (
	"encoding/json"
	"time"
)

// JobType identifies one of the six processing operations.
type JobType string

const (
	JobJoin         JobType = "join"
	JobAudioOverlay JobType = "audio_overlay"
	JobTextOverlay  JobType = "text_overlay"
	JobSubtitles    JobType = "subtitles"
	JobVideoOverlay JobType = "video_overlay"
	JobCombined     JobType = "combined"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobJoin, JobAudioOverlay, JobTextOverlay, JobSubtitles, JobVideoOverlay, JobCombined:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the full edge set of the job state machine.
// pending    -> processing (dispatch), failed (validate), cancelled (user)
// processing -> pending (retry), completed, failed, cancelled (user)
// failed     -> pending (explicit user retry)
var transitions = map[JobStatus][]JobStatus{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusPending, StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether from -> to is a legal edge. Terminal states
// other than failed have no outgoing edges; no state is re-entered.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MaxRetries bounds automatic re-enqueues of a single job.
const MaxRetries = 3

// Priority bounds. Higher dispatches first.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Job is one processing request.
type Job struct {
	ID            int64           `json:"id"`
	OwnerID       int64           `json:"owner_id"`
	Type          JobType         `json:"type"`
	Status        JobStatus       `json:"status"`
	InputFileIDs  []int64         `json:"input_file_ids"`
	OutputFileIDs []int64         `json:"output_file_ids,omitempty"`
	Config        json.RawMessage `json:"config"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Progress      float64         `json:"progress"`
	Result        json.RawMessage `json:"result,omitempty"`
	RetryCount    int             `json:"retry_count"`
	Priority      int             `json:"priority"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}
