package domain

import "time"

// ModelRecord is the canonical descriptor of a local model, created
// exclusively by the download registrar once every shard of a group
// verifies. Name is globally unique; Path must exist at creation time.
// Capabilities are immutable after first inference unless explicitly
// recomputed by the caller.
type ModelRecord struct {
	ID            int64
	Name          string
	Path          string
	ParamCount    int64
	Architecture  string
	Quantization  string
	ContextLength int
	Fingerprint   string
	Capabilities  Capabilities
	Tags          []string
	CreatedAt     time.Time
}

// LaunchSpec is the minimal subset of a ModelRecord the process supervisor
// needs to spawn a child: its id (for identity comparison, never the
// display name, since aliases must not cause spurious restarts) and the
// absolute path to the primary shard.
type LaunchSpec struct {
	ModelID int64
	Name    string
	Path    string
}
