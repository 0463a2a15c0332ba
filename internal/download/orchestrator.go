// Package download drives the single-worker download pipeline: pulling
// items off the FIFO queue, resolving them against the model hub,
// performing resumable transfers, and handing completed shard groups to
// the registrar that turns them into a catalog entry.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrwong99/gglib/internal/domain"
	"github.com/mrwong99/gglib/internal/download/queue"
	"github.com/mrwong99/gglib/internal/download/shardgroup"
	"github.com/mrwong99/gglib/internal/eventbus"
	"github.com/mrwong99/gglib/internal/observe"
	"github.com/mrwong99/gglib/internal/ports"
)

const (
	pollInterval  = 500 * time.Millisecond
	maxGetRetries = 5
	retryBaseWait = time.Second
)

// Orchestrator is the long-running single-worker download pipeline. The
// zero value is not usable; create instances with [New].
type Orchestrator struct {
	queue   *queue.Queue
	tracker *shardgroup.Tracker
	hf      ports.HFClient
	catalog ports.ModelCatalog
	parser  ports.GGUFParser
	bus     *eventbus.Bus
	dir     string

	// Metrics records download throughput/completion observability. Left
	// nil, instrumentation is a no-op; set it after New when wiring a
	// live [observe.Metrics] instance.
	Metrics *observe.Metrics

	mu      sync.Mutex
	cancels map[domain.DownloadID]context.CancelFunc

	wake           chan struct{}
	lastQueueDepth int64
}

// New creates an Orchestrator that writes in-flight downloads under dir.
func New(q *queue.Queue, tr *shardgroup.Tracker, hf ports.HFClient, catalog ports.ModelCatalog, parser ports.GGUFParser, bus *eventbus.Bus, dir string) *Orchestrator {
	return &Orchestrator{
		queue:   q,
		tracker: tr,
		hf:      hf,
		catalog: catalog,
		parser:  parser,
		bus:     bus,
		dir:     dir,
		cancels: make(map[domain.DownloadID]context.CancelFunc),
		wake:    make(chan struct{}, 1),
	}
}

// Wake nudges the worker to check the queue immediately instead of
// waiting for the next poll tick. Callers enqueue, then call Wake.
func (o *Orchestrator) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Run drives the worker loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.loop(ctx) })
	return g.Wait()
}

func (o *Orchestrator) loop(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		item, ok := o.queue.Dequeue()
		o.reportQueueDepth(ctx)
		if ok {
			o.process(ctx, item)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.wake:
		case <-ticker.C:
		}
	}
}

// CancelDownload aborts id's in-flight transfer (if any), removes it (and
// every shard-group sibling) from the queue and tracker, and emits
// download:cancelled.
func (o *Orchestrator) CancelDownload(id domain.DownloadID) error {
	o.mu.Lock()
	cancel, active := o.cancels[id]
	o.mu.Unlock()
	if active {
		cancel()
	}

	group, hasGroup := o.groupOf(id)
	if hasGroup {
		o.queue.RemoveGroup(group)
		o.tracker.OnGroupFailed(group)
	} else if err := o.queue.Remove(id); err != nil && domain.KindOf(err) != domain.KindNotFound {
		return err
	}

	if o.bus != nil {
		o.bus.Emit(eventbus.DownloadCancelled{DownloadID: id})
	}
	return nil
}

// reportQueueDepth publishes the pending-queue length as an UpDownCounter
// delta against the last value this orchestrator reported, since
// UpDownCounter only supports Add, not Set.
func (o *Orchestrator) reportQueueDepth(ctx context.Context) {
	if o.Metrics == nil {
		return
	}
	current := int64(o.queue.Len())
	delta := current - o.lastQueueDepth
	if delta != 0 {
		o.Metrics.DownloadQueueDepth.Add(ctx, delta)
		o.lastQueueDepth = current
	}
}

func (o *Orchestrator) groupOf(id domain.DownloadID) (domain.ShardGroupID, bool) {
	if item, ok := o.queue.Find(id); ok && item.ShardGroup != nil {
		return *item.ShardGroup, true
	}
	return "", false
}

func (o *Orchestrator) process(parent context.Context, item domain.QueuedItem) {
	ctx, cancel := context.WithCancel(parent)
	o.mu.Lock()
	o.cancels[item.DownloadID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, item.DownloadID)
		o.mu.Unlock()
	}()

	if o.bus != nil {
		o.bus.Emit(eventbus.DownloadStarted{DownloadID: item.DownloadID})
	}

	if err := o.runItem(ctx, item); err != nil {
		slog.Warn("download: item failed", "download_id", item.DownloadID.String(), "error", err)
		o.queue.MarkFailed(item, err)
		if o.bus != nil {
			o.bus.Emit(eventbus.DownloadFailed{DownloadID: item.DownloadID, Err: err.Error()})
		}
		if o.Metrics != nil {
			o.Metrics.RecordDownloadCompleted(ctx, "failed")
		}
	}
}

func (o *Orchestrator) runItem(ctx context.Context, item domain.QueuedItem) error {
	resolved, err := o.hf.ResolveRepo(ctx, item.DownloadID.RepoID, item.DownloadID.Quantization)
	if err != nil {
		return domain.WrapError(domain.KindTransport, "failed to resolve repository", err)
	}

	group, index, total := syntheticGroup(item)

	filename := item.CompletionKey.Filename
	var file ports.RepoFile
	found := false
	for _, f := range resolved.Files {
		if f.Filename == filename {
			file, found = f, true
			break
		}
	}
	if !found {
		return domain.NewError(domain.KindNotFound, "resolved repo did not contain the expected file").WithField("filename", filename)
	}

	key := domain.CompletionKey{
		RepoID:       resolved.RepoID,
		Revision:     resolved.Revision,
		Filename:     filename,
		Quantization: item.DownloadID.Quantization,
	}
	metadata := domain.GroupMetadata{
		RepoID:          resolved.RepoID,
		Revision:        resolved.Revision,
		Quantization:    item.DownloadID.Quantization,
		PrimaryFilename: primaryFilename(resolved.Files),
		Tags:            resolved.Tags,
		FileEntries:     toFileEntries(resolved.Files),
	}

	path, found, err := o.catalog.LookupCompletion(ctx, key)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "completion store lookup failed", err)
	}
	if !found {
		path, err = o.download(ctx, item.DownloadID, resolved.RepoID, resolved.Revision, file)
		if err != nil {
			return err
		}
		if err := o.catalog.RecordCompletion(ctx, key, path); err != nil {
			return domain.WrapError(domain.KindInternal, "failed to record completion", err)
		}
	}

	complete, err := o.tracker.OnShardDone(group, index, path, total, metadata)
	if err != nil {
		o.tracker.OnGroupFailed(group)
		return domain.WrapError(domain.KindInternal, "shard-group tracker rejected completion", err)
	}
	if complete == nil {
		return nil
	}

	modelID, err := o.register(ctx, *complete)
	if err != nil {
		o.tracker.OnGroupFailed(group)
		return domain.WrapError(domain.KindInternal, "model registration failed", err)
	}

	if o.bus != nil {
		o.bus.Emit(eventbus.DownloadCompleted{DownloadID: item.DownloadID, ModelID: modelID})
	}
	if o.Metrics != nil {
		o.Metrics.RecordDownloadCompleted(ctx, "ok")
	}
	return nil
}

func syntheticGroup(item domain.QueuedItem) (domain.ShardGroupID, int, int) {
	if item.ShardGroup != nil {
		return *item.ShardGroup, item.Shard.Index, item.Shard.Total
	}
	return domain.ShardGroupID("single:" + item.DownloadID.String()), 0, 1
}

func primaryFilename(files []ports.RepoFile) string {
	if len(files) == 0 {
		return ""
	}
	best := files[0]
	for _, f := range files[1:] {
		if f.Size > best.Size {
			best = f
		}
	}
	return best.Filename
}

func toFileEntries(files []ports.RepoFile) []domain.FileEntry {
	out := make([]domain.FileEntry, len(files))
	for i, f := range files {
		out[i] = domain.FileEntry{Filename: f.Filename, OID: f.OID, Size: f.Size}
	}
	return out
}

// download performs a resumable GET for file into o.dir, retrying
// transport errors (KindTransport) with exponential backoff and a Range
// request picking up from the bytes already on disk. Any other error
// ends the download at once.
func (o *Orchestrator) download(ctx context.Context, id domain.DownloadID, repoID, revision string, file ports.RepoFile) (string, error) {
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return "", domain.WrapError(domain.KindInternal, "failed to create download directory", err)
	}
	dest := filepath.Join(o.dir, sanitizeFilename(file.Filename))

	var lastErr error
	wait := retryBaseWait
	for attempt := 0; attempt < maxGetRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}

		rangeStart := int64(0)
		if info, err := os.Stat(dest); err == nil {
			rangeStart = info.Size()
		}

		f, err := openForResume(dest, rangeStart)
		if err != nil {
			return "", domain.WrapError(domain.KindInternal, "failed to open destination file", err)
		}

		progress := func(p domain.DownloadProgress) {
			p.DownloadID = id
			if o.bus != nil {
				o.bus.Emit(eventbus.DownloadProgress{Progress: p})
			}
			if o.Metrics != nil {
				o.Metrics.DownloadThroughput.Record(ctx, p.BytesPerSecond)
			}
		}

		err = o.hf.Download(ctx, repoID, revision, file.Filename, rangeStart, f, progress)
		closeErr := f.Close()
		if err == nil && closeErr == nil {
			return dest, nil
		}
		if err == nil {
			err = closeErr
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if domain.KindOf(err) != domain.KindTransport {
			return "", err
		}
		lastErr = err
	}
	return "", domain.WrapError(domain.KindTransport, fmt.Sprintf("download failed after %d attempts", maxGetRetries), lastErr)
}

func openForResume(path string, rangeStart int64) (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if rangeStart > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func sanitizeFilename(name string) string {
	return filepath.Base(name)
}
