// Package checkpoint reads and writes the single-file checkpoint artifact:
// a magic line, a JSON metadata line, then the encoded payload.
package checkpoint

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// MetadataVersion is the current artifact format version.
const MetadataVersion = 1

// magic starts every artifact.
const magic = "maxe-checkpoint"

// Progress summarizes how far the search had come.
type Progress struct {
	Generation     int `json:"generation"`
	MaxGeneration  int `json:"max_generation"`
	PoolSize       int `json:"pool_size"`
	Units          int `json:"units"`
	CompletedUnits int `json:"completed_units"`
}

// Identity describes the run writing artifacts.
type Identity struct {
	Program      string
	BuildVersion string
	Mode         string
	Workers      int
	RunID        string
	ResumedFrom  string
}

// Metadata is the artifact header.
type Metadata struct {
	Version      int      `json:"version"`
	Program      string   `json:"program"`
	BuildVersion string   `json:"build_version"`
	Mode         string   `json:"mode"`
	Workers      int      `json:"workers"`
	RunID        string   `json:"run_id"`
	ResumedFrom  string   `json:"resumed_from,omitempty"`
	Sequence     uint64   `json:"sequence"`
	CreatedAt    string   `json:"created_at"`
	Codec        string   `json:"codec"`
	PayloadSize  int64    `json:"payload_size"`
	Checksum     string   `json:"checksum"`
	Progress     Progress `json:"progress"`
}

// Created parses CreatedAt.
func (m Metadata) Created() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, m.CreatedAt)
}

// NewRunID returns a fresh, time-ordered run identifier.
func NewRunID() string {
	return ulid.Make().String()
}
