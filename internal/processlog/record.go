// Package processlog tracks the outcome of every pipeline stage per file.
//
// A Record keyed by (file path, stage) decides whether a stage revisits a
// file: a prior success is skipped unless the caller asks for a rerun, while
// a failure or the absence of a record means the file is still pending.
package processlog

import (
	"encoding/json"
	"time"
)

// Status is the outcome of one stage for one file.
type Status string

const (
	// StatusSuccess indicates the stage completed and produced a payload.
	StatusSuccess Status = "success"
	// StatusFailed indicates the stage ran and failed for this file.
	StatusFailed Status = "failed"
)

// IsValid returns true if the status is one of the known outcomes.
func (s Status) IsValid() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Stage names tracked by the pipeline.
const (
	StageImportMeta    = "import_meta_data_process"
	StageVideoSampling = "video_sampling"
	StageUpload        = "upload"
)

// Record is the persisted outcome of one stage for one file.
type Record struct {
	FilePath   string
	Stage      string
	Status     Status
	Payload    json.RawMessage
	RecordedAt time.Time
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return &c
}

type key struct {
	filePath string
	stage    string
}
