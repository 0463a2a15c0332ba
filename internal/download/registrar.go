package download

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mrwong99/gglib/internal/domain"
)

// register parses the primary shard's metadata, infers capabilities, and
// inserts a new catalog entry for complete. Insertion is the atomic
// registration boundary: a failure here leaves the on-disk paths and
// completion-store entries exactly as they are, so a future retry of the
// same download short-circuits straight back to this point.
func (o *Orchestrator) register(ctx context.Context, complete domain.GroupComplete) (int64, error) {
	primaryPath := complete.OrderedPaths[0]
	for i, entry := range complete.Metadata.FileEntries {
		if entry.Filename == complete.Metadata.PrimaryFilename && i < len(complete.OrderedPaths) {
			primaryPath = complete.OrderedPaths[i]
			break
		}
	}

	meta, err := o.parser.ParseMetadata(primaryPath)
	if err != nil {
		return 0, domain.WrapError(domain.KindInternal, "failed to parse model metadata", err)
	}

	caps := domain.InferFromChatTemplate(meta.ChatTemplate)

	rec := domain.ModelRecord{
		Name:          displayName(complete.Metadata.RepoID, complete.Metadata.Quantization),
		Path:          primaryPath,
		ParamCount:    meta.ParamCount,
		Architecture:  meta.Architecture,
		Quantization:  complete.Metadata.Quantization,
		ContextLength: meta.ContextLength,
		Fingerprint:   fingerprint(complete.Metadata),
		Capabilities:  caps,
		Tags:          complete.Metadata.Tags,
	}

	id, err := o.catalog.Insert(ctx, rec)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// displayName computes a human-readable model name from a hub repo id
// (typically "owner/repo") and its quantization tag.
func displayName(repoID, quantization string) string {
	name := repoID
	if i := strings.LastIndex(repoID, "/"); i >= 0 {
		name = repoID[i+1:]
	}
	if quantization == "" {
		return name
	}
	return fmt.Sprintf("%s-%s", name, quantization)
}

// fingerprint derives a stable identity for a registered model from its
// resolved file OIDs, so two downloads of the same revision produce the
// same fingerprint even if registered independently.
func fingerprint(meta domain.GroupMetadata) string {
	var sb strings.Builder
	sb.WriteString(meta.RepoID)
	sb.WriteByte('@')
	sb.WriteString(meta.Revision)
	for _, f := range meta.FileEntries {
		sb.WriteByte(':')
		sb.WriteString(filepath.Base(f.Filename))
		sb.WriteByte('=')
		sb.WriteString(f.OID)
	}
	return sb.String()
}
