// SPDX-License-Identifier: MIT

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_Table(t *testing.T) {
	allowed := []struct{ from, to JobStatus }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusFailed},
		{StatusPending, StatusCancelled},
		{StatusProcessing, StatusPending},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusProcessing, StatusCancelled},
		{StatusFailed, StatusPending},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s should be allowed", tr.from, tr.to)
	}

	statuses := []JobStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}
	isAllowed := func(from, to JobStatus) bool {
		for _, tr := range allowed {
			if tr.from == from && tr.to == to {
				return true
			}
		}
		return false
	}
	for _, from := range statuses {
		for _, to := range statuses {
			if !isAllowed(from, to) {
				assert.False(t, CanTransition(from, to), "%s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []JobStatus{StatusCompleted, StatusCancelled} {
		for _, to := range []JobStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled} {
			assert.False(t, CanTransition(terminal, to), "terminal %s must not transition to %s", terminal, to)
		}
	}
	// failed is terminal for the dispatcher but re-openable by explicit user retry
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, CanTransition(StatusFailed, StatusPending))
}

func TestJobTypeValid(t *testing.T) {
	for _, jt := range []JobType{JobJoin, JobAudioOverlay, JobTextOverlay, JobSubtitles, JobVideoOverlay, JobCombined} {
		assert.True(t, jt.Valid())
	}
	assert.False(t, JobType("transcode").Valid())
}

func TestUploadSessionChunks(t *testing.T) {
	s := &UploadSession{TotalChunks: 3}
	assert.False(t, s.Complete())

	s.MarkChunk(0)
	s.MarkChunk(2)
	s.MarkChunk(2) // idempotent
	assert.False(t, s.Complete())
	assert.True(t, s.HasChunk(2))
	assert.False(t, s.HasChunk(1))

	s.MarkChunk(1)
	assert.True(t, s.Complete())
}
