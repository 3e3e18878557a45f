package model

import (
	"fmt"
	"time"
)

type JobStatus string

const (
	StatusQueued        JobStatus = "queued"
	StatusDownloading   JobStatus = "downloading"
	StatusConcatenating JobStatus = "concatenating"
	StatusCompressing   JobStatus = "compressing"
	StatusCompleted     JobStatus = "completed"
	StatusFailed        JobStatus = "failed"
)

// transitions lists the legal next states for every non-terminal state.
var transitions = map[JobStatus][]JobStatus{
	StatusQueued:        {StatusDownloading, StatusFailed},
	StatusDownloading:   {StatusDownloading, StatusConcatenating, StatusCompressing, StatusCompleted, StatusFailed},
	StatusConcatenating: {StatusCompressing, StatusCompleted, StatusFailed},
	StatusCompressing:   {StatusCompleted, StatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
// Terminal states have no outgoing edges.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// MediaItem is a downloaded source that passed the probe.
type MediaItem struct {
	URL      string
	Path     string
	Valid    bool
	Duration float64
}

// Job is the registry record. Clients see it through the API's status
// response, never directly.
type Job struct {
	ID         string
	Status     JobStatus
	Progress   Progress
	URLs       []string
	OutputPath string
	OutputName string
	MaxSizeMB  float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time

	// DurationSec is the sum of the source durations.
	DurationSec      float64
	FileSizeMB       float64
	OriginalSizeMB   float64
	WasCompressed    bool
	TargetMet        bool
	CompressionRatio float64
	Attempts         int
	Error            string
	Warning          string
}

func (j *Job) IsTerminal() bool {
	return j.Status.Terminal()
}

// Phase renders the status the way clients poll for it, e.g.
// "downloading_video_2_of_3".
func (j *Job) Phase() string {
	switch j.Status {
	case StatusDownloading:
		return fmt.Sprintf("downloading_video_%d_of_%d", j.Progress.Current, j.Progress.Total)
	case StatusConcatenating:
		return "concatenating_videos"
	case StatusCompressing:
		return "compressing_video"
	default:
		return string(j.Status)
	}
}

// Clone returns a deep copy safe to hand out to readers.
func (j *Job) Clone() Job {
	c := *j
	c.URLs = append([]string(nil), j.URLs...)
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
