// Package shardgroup tracks in-progress multi-file downloads that must
// register atomically. It is deliberately separate from the pending
// queue in package queue: the queue holds work not yet started or
// in-flight, while the tracker accumulates completions for work already
// dispatched, keyed by ShardGroupID rather than queue position.
package shardgroup

import (
	"fmt"
	"time"

	"github.com/mrwong99/gglib/internal/domain"
)

// debugAssertions enables the metadata-consistency check described in
// spec; left on unconditionally since the tracker never sits on a hot
// path sensitive to its cost.
const debugAssertions = true

// Tracker accumulates per-group shard completions until every expected
// index has landed, then hands back the group atomically. The zero value
// is ready to use.
type Tracker struct {
	groups map[domain.ShardGroupID]*domain.ShardGroupState
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{groups: make(map[domain.ShardGroupID]*domain.ShardGroupState)}
}

// OnShardDone records that shard index of group landed at path. The first
// path reported for a given index wins; later duplicate reports for the
// same index are ignored (idempotent under at-least-once completion
// signals). Returns a non-nil GroupComplete, with the group atomically
// removed from the tracker, exactly when every index 0..expectedTotal-1
// has been filled.
func (t *Tracker) OnShardDone(group domain.ShardGroupID, index int, path string, expectedTotal int, metadata domain.GroupMetadata) (*domain.GroupComplete, error) {
	if t.groups == nil {
		t.groups = make(map[domain.ShardGroupID]*domain.ShardGroupState)
	}

	state, ok := t.groups[group]
	if !ok {
		state = &domain.ShardGroupState{
			ExpectedTotal: expectedTotal,
			Paths:         make([]string, expectedTotal),
			Metadata:      metadata,
		}
		t.groups[group] = state
	} else if debugAssertions {
		if err := assertMetadataMatches(state.Metadata, metadata); err != nil {
			return nil, err
		}
	}

	if index < 0 || index >= state.ExpectedTotal {
		return nil, fmt.Errorf("shardgroup: index %d out of range [0,%d) for group %s", index, state.ExpectedTotal, group)
	}
	if state.Paths[index] == "" {
		state.Paths[index] = path
	}
	state.LastUpdated = time.Now()

	for _, p := range state.Paths {
		if p == "" {
			return nil, nil
		}
	}

	ordered := make([]string, len(state.Paths))
	copy(ordered, state.Paths)
	delete(t.groups, group)

	return &domain.GroupComplete{
		GroupID:      group,
		OrderedPaths: ordered,
		Metadata:     state.Metadata,
	}, nil
}

// OnGroupFailed removes group from the tracker unconditionally, whether
// or not it was complete. A group not currently tracked is a no-op.
func (t *Tracker) OnGroupFailed(group domain.ShardGroupID) {
	delete(t.groups, group)
}

// HasOpenGroups reports whether any group is still accumulating shards.
// Combined with an empty queue this signals a full drain.
func (t *Tracker) HasOpenGroups() bool {
	return len(t.groups) > 0
}

func assertMetadataMatches(a, b domain.GroupMetadata) error {
	if a.RepoID != b.RepoID || a.Revision != b.Revision || a.Quantization != b.Quantization || a.PrimaryFilename != b.PrimaryFilename {
		return fmt.Errorf("shardgroup: inconsistent metadata for group: %+v vs %+v", a, b)
	}
	return nil
}
