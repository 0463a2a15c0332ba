// Package queue implements the bounded FIFO download queue: pending and
// in-flight items, a side list of failed items, and reordering within a
// shard-group-aware position space.
//
// Position numbering follows spec: position 1 is always the
// currently-downloading item when one is active; pending items begin at
// position 2 (or 1 if nothing is active). Callers communicate "is
// something active right now" explicitly via the hasActive parameter on
// every operation that reports or computes a position, since the queue
// itself does not track which item (if any) the orchestrator is
// currently downloading.
package queue

import (
	"sync"
	"time"

	"github.com/mrwong99/gglib/internal/domain"
)

// Queue is a bounded, thread-safe FIFO of pending downloads plus a side
// list of failed items. The zero value is not usable; use [New].
type Queue struct {
	mu      sync.Mutex
	maxSize int
	pending []domain.QueuedItem
	failed  []domain.FailedItem
}

// New creates an empty queue bounded at maxSize pending items.
func New(maxSize int) *Queue {
	return &Queue{maxSize: maxSize}
}

// position returns the 1-based position of the item at pending index i,
// given whether something is currently active outside the pending list.
func position(i int, hasActive bool) int {
	if hasActive {
		return i + 2
	}
	return i + 1
}

func (q *Queue) findPending(id domain.DownloadID) int {
	for i, it := range q.pending {
		if it.DownloadID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) findFailed(id domain.DownloadID) int {
	for i, f := range q.failed {
		if f.Item.DownloadID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) removeFromFailed(id domain.DownloadID) {
	if i := q.findFailed(id); i >= 0 {
		q.failed = append(q.failed[:i], q.failed[i+1:]...)
	}
}

func (q *Queue) groupIndices(group domain.ShardGroupID) []int {
	var out []int
	for i, it := range q.pending {
		if it.ShardGroup != nil && *it.ShardGroup == group {
			out = append(out, i)
		}
	}
	return out
}

// Enqueue enqueues a single, unsharded item at the tail. It rejects a
// download id already pending with KindAlreadyRunning, and rejects
// over-capacity pushes with KindQueueFull. Re-queuing an id that
// currently sits in the failed list is allowed and silently drops the
// stale failed record — only a pending duplicate is rejected.
func (q *Queue) Enqueue(id domain.DownloadID, key domain.CompletionKey, hasActive bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.findPending(id) >= 0 {
		return 0, domain.NewError(domain.KindAlreadyRunning, "download already queued").WithField("download_id", id.String())
	}
	if len(q.pending) >= q.maxSize {
		return 0, domain.NewError(domain.KindQueueFull, "download queue is full")
	}
	q.removeFromFailed(id)

	q.pending = append(q.pending, domain.QueuedItem{
		DownloadID:    id,
		CompletionKey: key,
		EnqueuedAt:    time.Now(),
	})
	return position(len(q.pending)-1, hasActive), nil
}

// ShardFile is one file of a sharded enqueue request.
type ShardFile struct {
	Filename string
	Size     int64
}

// EnqueueSharded queues len(files) items sharing a newly minted
// ShardGroupID, atomically: either all items fit within capacity and are
// queued, or none are. Returns the position of the first shard.
func (q *Queue) EnqueueSharded(id domain.DownloadID, key domain.CompletionKey, group domain.ShardGroupID, files []ShardFile, hasActive bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.findPending(id) >= 0 {
		return 0, domain.NewError(domain.KindAlreadyRunning, "download already queued").WithField("download_id", id.String())
	}
	if len(q.pending)+len(files) > q.maxSize {
		return 0, domain.NewError(domain.KindQueueFull, "download queue is full")
	}
	q.removeFromFailed(id)

	first := len(q.pending)
	now := time.Now()
	total := len(files)
	for i, f := range files {
		idx := i
		k := key
		k.Filename = f.Filename
		q.pending = append(q.pending, domain.QueuedItem{
			DownloadID:    id,
			CompletionKey: k,
			Shard:         &domain.ShardSpec{Index: idx, Total: total, Filename: f.Filename, Size: f.Size},
			ShardGroup:    &group,
			EnqueuedAt:    now,
		})
	}
	return position(first, hasActive), nil
}

// Find returns the pending item for id without removing it, for callers
// (e.g. cancellation) that need to inspect an item's shard group before
// deciding how much to remove.
func (q *Queue) Find(id domain.DownloadID) (domain.QueuedItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.findPending(id); i >= 0 {
		return q.pending[i], true
	}
	return domain.QueuedItem{}, false
}

// Dequeue pops and returns the head of the pending list, or false if the
// queue is empty.
func (q *Queue) Dequeue() (domain.QueuedItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return domain.QueuedItem{}, false
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	return item, true
}

// Remove drops id from the pending list, or moves it out of the failed
// list. Returns KindNotFound if id is in neither.
func (q *Queue) Remove(id domain.DownloadID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := q.findPending(id); i >= 0 {
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		return nil
	}
	if i := q.findFailed(id); i >= 0 {
		q.failed = append(q.failed[:i], q.failed[i+1:]...)
		return nil
	}
	return domain.NewError(domain.KindNotFound, "download not in queue").WithField("download_id", id.String())
}

// Reorder moves id (and, if it belongs to a shard group, every sibling in
// the group, preserving their intra-group order) so that it lands at
// newPosition, clamped to the valid range. Returns the position the item
// actually landed at.
func (q *Queue) Reorder(id domain.DownloadID, newPosition int, hasActive bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.findPending(id)
	if i < 0 {
		return 0, domain.NewError(domain.KindNotFound, "download not in queue").WithField("download_id", id.String())
	}

	var indices []int
	if group := q.pending[i].ShardGroup; group != nil {
		indices = q.groupIndices(*group)
	} else {
		indices = []int{i}
	}

	moving := make([]domain.QueuedItem, len(indices))
	for n, idx := range indices {
		moving[n] = q.pending[idx]
	}

	remaining := make([]domain.QueuedItem, 0, len(q.pending)-len(indices))
	moved := make(map[int]bool, len(indices))
	for _, idx := range indices {
		moved[idx] = true
	}
	for idx, it := range q.pending {
		if !moved[idx] {
			remaining = append(remaining, it)
		}
	}

	offset := 1
	if hasActive {
		offset = 2
	}
	target := newPosition - offset
	if target < 0 {
		target = 0
	}
	if target > len(remaining) {
		target = len(remaining)
	}

	out := make([]domain.QueuedItem, 0, len(remaining)+len(moving))
	out = append(out, remaining[:target]...)
	out = append(out, moving...)
	out = append(out, remaining[target:]...)
	q.pending = out

	return position(target, hasActive), nil
}

// MarkFailed appends item to the failed side list with err's message. The
// caller is responsible for having already removed item from pending (the
// orchestrator calls this only for the item it just dequeued and failed
// on, never for one still sitting in the pending list).
func (q *Queue) MarkFailed(item domain.QueuedItem, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, domain.FailedItem{Item: item, Error: err.Error()})
}

// RetryFailed removes id from the failed list and re-enqueues it at the
// tail with a fresh timestamp. Unlike a fresh Enqueue, this is not
// subject to the capacity check: a retry is moving an already-accounted-
// for item back to pending, not admitting new work.
func (q *Queue) RetryFailed(id domain.DownloadID, hasActive bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.findFailed(id)
	if i < 0 {
		return 0, domain.NewError(domain.KindNotFound, "download not in failed list").WithField("download_id", id.String())
	}

	item := q.failed[i].Item
	q.failed = append(q.failed[:i], q.failed[i+1:]...)
	item.EnqueuedAt = time.Now()
	q.pending = append(q.pending, item)
	return position(len(q.pending)-1, hasActive), nil
}

// ClearFailed empties the failed list.
func (q *Queue) ClearFailed() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = nil
}

// RemoveGroup removes every pending item belonging to group and returns
// the count removed. It does not touch the failed list — a shard that
// already failed is a terminal record the user reviews or retries
// explicitly, not swept away by a group removal of the still-pending
// siblings.
func (q *Queue) RemoveGroup(group domain.ShardGroupID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	pending := q.pending[:0:0]
	for _, it := range q.pending {
		if it.ShardGroup != nil && *it.ShardGroup == group {
			count++
			continue
		}
		pending = append(pending, it)
	}
	q.pending = pending
	return count
}

// SetMaxSize changes the capacity. Lowering it below the current pending
// length does not evict existing items; it only blocks future pushes
// until the queue drains back under the new limit.
func (q *Queue) SetMaxSize(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxSize = n
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Failed returns a copy of the failed list.
func (q *Queue) Failed() []domain.FailedItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.FailedItem, len(q.failed))
	copy(out, q.failed)
	return out
}

// Pending returns a copy of the pending list, in order.
func (q *Queue) Pending() []domain.QueuedItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.QueuedItem, len(q.pending))
	copy(out, q.pending)
	return out
}
