// Package syncengine implements the Sync Engine of SPEC_FULL.md §4.3: the
// state machine that reconciles the Local Store against the Remote Client's
// published version, one UpdateFromServer call at a time.
package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/italia/drl-sync/internal/store"
	"github.com/italia/drl-sync/pkg/drl"
	"github.com/italia/drl-sync/pkg/progress"
	"github.com/italia/drl-sync/pkg/remote"
)

// MaxTry bounds the consistency-retry loop of UpdateFromServer: it makes at
// most this many attempts, each of which may end inconsistent (the upstream
// shifted its target mid-download, or an entry-count mismatch wiped the
// mirror), before giving up with an INCONSISTENT_STATE error, per
// SPEC_FULL.md §4.3 and spec.md §8 invariant 4.
const MaxTry = 3

// PageSize bounds the number of hashed UCVIs applied per Local Store
// transaction, per SPEC_FULL.md §4.3.
const PageSize = 1000

// Logger receives diagnostic lines from the engine. Modeled on the teacher's
// own injected-function style of diagnostics rather than a concrete logging
// library, since the teacher carries none either.
type Logger func(format string, args ...interface{})

// Engine is the Sync Engine: it owns no network or disk state of its own,
// driving a remote.Client and a *store.Store to bring the local mirror to
// the server's published version.
type Engine struct {
	client   remote.Client
	store    *store.Store
	progress *progress.Emitter
	log      Logger
}

// New builds an Engine. progressEmitter and log may be nil.
func New(client remote.Client, localStore *store.Store, progressEmitter *progress.Emitter, log Logger) *Engine {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Engine{client: client, store: localStore, progress: progressEmitter, log: log}
}

// UpdateFromServer is the Sync Engine's sole entry point. It reconciles the
// Local Store against the server's current published version, downloading
// and applying whatever chunks are needed, and returns the resulting
// SyncStatus. ctx cancellation is observed between chunk fetches and between
// retry attempts.
func (e *Engine) UpdateFromServer(ctx context.Context) (drl.SyncStatus, error) {
	var last drl.SyncStatus
	for attempt := 0; attempt < MaxTry; attempt++ {
		if err := ctx.Err(); err != nil {
			return drl.SyncStatus{}, drl.NewCancelledError(err)
		}
		status, consistent, err := e.attempt(ctx)
		if err != nil {
			return drl.SyncStatus{}, err
		}
		last = status
		if consistent {
			return last, nil
		}
		e.log("sync attempt %d/%d was inconsistent, retrying", attempt+1, MaxTry)
	}
	return drl.SyncStatus{}, drl.NewInconsistentStateError(
		fmt.Sprintf("local mirror still inconsistent after %d attempts", MaxTry))
}

// attempt runs one pass of the reconciliation: read local and remote state,
// fast-path if already current, otherwise (re)establish a target and drive
// the chunk download loop to completion or to a detected target shift. The
// bool result reports whether the pass reached a consistent terminal state
// (true) or was aborted by a target shift mid-download or wiped after an
// entry-count mismatch (false, triggering a retry in UpdateFromServer).
func (e *Engine) attempt(ctx context.Context) (drl.SyncStatus, bool, error) {
	status, err := e.store.LoadOrInitStatus()
	if err != nil {
		return drl.SyncStatus{}, false, err
	}

	info, err := e.client.GetStatus(ctx, status.CurrentVersion)
	if err != nil {
		return drl.SyncStatus{}, false, err
	}

	// Step 1: already on the published version — nothing to do.
	if status.HasCurrentVersion() && status.IsSameVersion(info) {
		return e.confirmSameVersion(status, info)
	}

	// Step 1b: a previous attempt's target no longer matches what the server
	// now publishes (invariant: target metadata must stay internally
	// consistent or be discarded). If any chunk was already saved toward the
	// stale target, every persisted entry is dropped and SyncStatus is reset
	// to Empty before adopting the fresh target, so the download starts over
	// from version 0, per SPEC_FULL.md §4.3.
	if status.HasPendingDownload() && !status.IsTargetVersionConsistent(info) {
		if status.AnyChunkDownloaded() {
			if err := e.store.DropEntries(); err != nil {
				return drl.SyncStatus{}, false, err
			}
			status = status.resetEmpty()
		}
	}

	if !status.IsTargetVersion(info) {
		status = status.withTarget(info)
		if err := e.store.UpdateStatus(status); err != nil {
			return drl.SyncStatus{}, false, err
		}
	}

	return e.downloadChunks(ctx, status)
}

// downloadChunks drives the per-chunk fetch/apply loop from status's
// last_chunk_saved up to target_chunks_count, detecting a mid-download
// target shift (the server republished a newer version while this attempt
// was in flight) and returning consistent=false so UpdateFromServer retries.
func (e *Engine) downloadChunks(ctx context.Context, status drl.SyncStatus) (drl.SyncStatus, bool, error) {
	for status.LastChunkSaved < status.TargetChunksCount {
		if err := ctx.Err(); err != nil {
			return drl.SyncStatus{}, false, drl.NewCancelledError(err)
		}

		nextChunk := status.LastChunkSaved + 1
		chunk, err := e.client.GetChunk(ctx, status.CurrentVersion, nextChunk)
		if err != nil {
			return drl.SyncStatus{}, false, err
		}

		if chunk.Version != status.TargetVersion || chunk.ID != status.TargetVersionID {
			// The server moved the target out from under us. Discard this
			// attempt's partial progress and let UpdateFromServer retry.
			return drl.SyncStatus{}, false, nil
		}

		if err := e.applyChunk(status, chunk); err != nil {
			return drl.SyncStatus{}, false, err
		}

		status.LastChunkSaved = nextChunk
		if err := e.store.UpdateStatus(status); err != nil {
			return drl.SyncStatus{}, false, err
		}

		e.emitProgress(status, false)
	}

	return e.finalizeDownload(status)
}

// applyChunk persists one chunk's payload: a non-incremental first chunk
// wipes and replaces the whole blacklist atomically (closing the visibility
// window discussed in SPEC_FULL.md §9); any other chunk is applied as a
// paged insert or a differential insert/delete pair.
func (e *Engine) applyChunk(status drl.SyncStatus, chunk drl.ChunkData) error {
	switch {
	case chunk.IsNonIncrementalFirstChunk():
		next := status
		next.LastChunkSaved = chunk.Chunk
		return e.store.ReplaceAndInsert(next, chunk.RevokedUCVIList)

	case len(chunk.RevokedUCVIList) > 0:
		return e.store.BulkInsertMissing(chunk.RevokedUCVIList, PageSize)

	case chunk.Delta != nil:
		if len(chunk.Delta.Deletions) > 0 {
			if err := e.store.BulkDelete(chunk.Delta.Deletions, PageSize); err != nil {
				return err
			}
		}
		if len(chunk.Delta.Insertions) > 0 {
			if err := e.store.BulkInsertMissing(chunk.Delta.Insertions, PageSize); err != nil {
				return err
			}
		}
		return nil

	default:
		// An empty chunk (zero insertions/deletions) is valid — nothing to apply.
		return nil
	}
}

// confirmSameVersion implements SPEC_FULL.md §4.3 Step 1's fast path: the
// Local Store already claims the server's published version, so the only
// remaining check is that its persisted entry count still matches what the
// server just reported for that version. A match means no download is
// needed at all; a mismatch means the Local Store has drifted from its own
// recorded version and must be wiped and rebuilt from scratch.
func (e *Engine) confirmSameVersion(status drl.SyncStatus, info drl.VersionInfo) (drl.SyncStatus, bool, error) {
	count, err := e.store.CountEntries()
	if err != nil {
		return drl.SyncStatus{}, false, err
	}
	if count != info.TotalNumberUCVI {
		e.log("entry count mismatch on current version: got %d, want %d", count, info.TotalNumberUCVI)
		return e.wipeAndRetry(status)
	}

	status.LastCheck = time.Now()
	if err := e.store.UpdateStatus(status); err != nil {
		return drl.SyncStatus{}, false, err
	}
	e.emitProgress(status, true)
	return status, true, nil
}

// finalizeDownload implements SPEC_FULL.md §4.3 Step 3: once every chunk up
// to target_chunks_count has been applied, the persisted entry count must
// match target_total_number_ucvi before the target is promoted to current.
// A mismatch means the download produced an inconsistent result and the
// Local Store is wiped for a retry rather than left half-applied.
func (e *Engine) finalizeDownload(status drl.SyncStatus) (drl.SyncStatus, bool, error) {
	count, err := e.store.CountEntries()
	if err != nil {
		return drl.SyncStatus{}, false, err
	}
	if count != status.TargetTotalNumberUCVI {
		e.log("entry count mismatch after sync: got %d, want %d", count, status.TargetTotalNumberUCVI)
		return e.wipeAndRetry(status)
	}

	status.CurrentVersion = status.TargetVersion
	status.CurrentVersionID = status.TargetVersionID
	status.LastCheck = time.Now()
	if err := e.store.UpdateStatus(status); err != nil {
		return drl.SyncStatus{}, false, err
	}
	e.emitProgress(status, true)
	return status, true, nil
}

// wipeAndRetry drops every persisted entry and resets SyncStatus to Empty,
// per spec.md §4.3 Step 3's else-branch and the S4 scenario of spec.md §8:
// an inconsistent local mirror is discarded rather than patched, and the
// caller (UpdateFromServer's retry loop) starts over from scratch, bounded
// by MaxTry attempts.
func (e *Engine) wipeAndRetry(status drl.SyncStatus) (drl.SyncStatus, bool, error) {
	if err := e.store.DropEntries(); err != nil {
		return drl.SyncStatus{}, false, err
	}
	reset := status.resetEmpty()
	if err := e.store.UpdateStatus(reset); err != nil {
		return drl.SyncStatus{}, false, err
	}
	return drl.SyncStatus{}, false, nil
}

func (e *Engine) emitProgress(status drl.SyncStatus, completed bool) {
	if e.progress == nil {
		return
	}
	e.progress.Emit(status.CurrentVersion, status.TargetVersion, status.LastChunkSaved,
		status.TargetChunksCount, status.TargetChunkSize, completed)
}
