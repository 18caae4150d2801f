// SPDX-License-Identifier: MIT

package model

import "time"

// MediaInfo is the probed container/stream metadata of an asset.
type MediaInfo struct {
	Duration   float64 `json:"duration"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	Bitrate    int64   `json:"bitrate,omitempty"`
}

// Asset is one stored binary with metadata. Immutable after creation except
// for the soft-delete flag.
type Asset struct {
	ID         int64      `json:"id"`
	OwnerID    int64      `json:"owner_id"`
	Name       string     `json:"name"`
	ObjectName string     `json:"object_name"`
	Size       int64      `json:"size"`
	MediaType  string     `json:"media_type"`
	Metadata   *MediaInfo `json:"metadata,omitempty"`
	Deleted    bool       `json:"is_deleted"`
	CreatedAt  time.Time  `json:"created_at"`
}

// UploadSession is the ephemeral state of one chunked upload. It lives in the
// shared store with a TTL; chunk bytes live under temp/chunks/ in the object
// store until completion or abort.
type UploadSession struct {
	ID          string    `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	Filename    string    `json:"filename"`
	TotalSize   int64     `json:"total_size"`
	TotalChunks int       `json:"total_chunks"`
	MediaType   string    `json:"media_type"`
	Received    []int     `json:"received"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasChunk reports whether chunk index i has been received.
func (s *UploadSession) HasChunk(i int) bool {
	for _, got := range s.Received {
		if got == i {
			return true
		}
	}
	return false
}

// MarkChunk records receipt of chunk index i (idempotent).
func (s *UploadSession) MarkChunk(i int) {
	if !s.HasChunk(i) {
		s.Received = append(s.Received, i)
	}
}

// Complete reports whether every chunk index [0..TotalChunks) is present.
func (s *UploadSession) Complete() bool {
	return len(s.Received) == s.TotalChunks
}
