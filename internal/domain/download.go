package domain

import (
	"fmt"
	"time"
)

// DownloadID is the logical, user-facing identity of a download request:
// a repository identifier plus an optional quantization tag. Used for
// deduplication against in-flight requests and for cancellation.
type DownloadID struct {
	RepoID       string
	Quantization string
}

func (d DownloadID) String() string {
	if d.Quantization == "" {
		return d.RepoID
	}
	return fmt.Sprintf("%s@%s", d.RepoID, d.Quantization)
}

// CompletionKey is the content identity of a single downloaded artifact:
// repository, resolved revision, canonical filename, and quantization.
// Stored in the persistent downloaded_files table; a download that
// resolves entirely to existing keys short-circuits without touching the
// network.
type CompletionKey struct {
	RepoID       string
	Revision     string
	Filename     string
	Quantization string
}

func (k CompletionKey) String() string {
	return fmt.Sprintf("%s@%s/%s (%s)", k.RepoID, k.Revision, k.Filename, k.Quantization)
}

// ShardGroupID identifies a cohort of files that must be downloaded and
// registered atomically because they together constitute one logical
// model (split GGUF shards).
type ShardGroupID string

// ShardSpec describes one file within a shard group as queued.
type ShardSpec struct {
	Index    int
	Total    int
	Filename string
	Size     int64
}

// QueuedItem is a single download queue entry. Position in the queue is
// derived from list order, never stored on the item itself.
type QueuedItem struct {
	DownloadID    DownloadID
	CompletionKey CompletionKey
	Shard         *ShardSpec
	ShardGroup    *ShardGroupID
	EnqueuedAt    time.Time
}

// FailedItem is a QueuedItem that terminated with an error, retained on a
// side list separate from the persistent completion store.
type FailedItem struct {
	Item  QueuedItem
	Error string
}

// FileEntry is one physical file resolved for a (possibly sharded)
// download, as reported by the hub client.
type FileEntry struct {
	Filename string
	OID      string
	Size     int64
}

// GroupMetadata is everything the registrar needs once every shard of a
// group has landed: enough to parse the primary file and insert a
// ModelRecord without re-querying the hub.
type GroupMetadata struct {
	RepoID          string
	Revision        string
	Quantization    string
	PrimaryFilename string
	Tags            []string
	FileEntries     []FileEntry
}

// ShardGroupState is the shard-group tracker's in-progress record for one
// group. Paths is sparse and indexed by shard number; a group is complete
// once every index 0..ExpectedTotal-1 is non-empty.
type ShardGroupState struct {
	ExpectedTotal int
	Paths         []string
	Metadata      GroupMetadata
	LastUpdated   time.Time
}

// GroupComplete is returned by the shard-group tracker exactly once per
// group, when its final shard lands.
type GroupComplete struct {
	GroupID      ShardGroupID
	OrderedPaths []string
	Metadata     GroupMetadata
}

// DownloadProgress is the payload of a download:progress event.
type DownloadProgress struct {
	DownloadID     DownloadID
	Filename       string
	BytesDone      int64
	TotalBytes     int64
	BytesPerSecond float64
	ETA            time.Duration
	Percentage     float64
}
