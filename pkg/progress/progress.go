// Package progress implements the Progress Channel of SPEC_FULL.md §4.6: a
// lock-protected multicast of DownloadProgress events to subscribers running
// on the Sync Engine's own task.
package progress

import (
	"fmt"
	"sync"
)

// DownloadProgress describes the state of an in-flight or completed download.
type DownloadProgress struct {
	CurrentVersion       int64
	TargetVersion        int64
	LastChunkSaved       int
	TargetChunksCount    int
	TargetChunkSize      int
	TotalProgressPercent float64
	IsCompleted          bool
}

// newProgress computes TotalProgressPercent per SPEC_FULL.md §4.6:
// last_chunk_saved / target_chunks_count when the target is known, else 0.
func newProgress(currentVersion, targetVersion int64, lastChunkSaved, targetChunksCount, targetChunkSize int, completed bool) DownloadProgress {
	var percent float64
	if targetChunksCount > 0 {
		percent = float64(lastChunkSaved) / float64(targetChunksCount)
	}
	return DownloadProgress{
		CurrentVersion:       currentVersion,
		TargetVersion:        targetVersion,
		LastChunkSaved:       lastChunkSaved,
		TargetChunksCount:    targetChunksCount,
		TargetChunkSize:      targetChunkSize,
		TotalProgressPercent: percent,
		IsCompleted:          completed,
	}
}

// Subscriber receives DownloadProgress events.
type Subscriber func(DownloadProgress)

// Emitter is a mutex-protected multicast of subscribers, invoked sequentially
// on the emitting goroutine. A subscriber's panic is recovered and logged
// rather than allowed to kill the Sync Engine's task or block later
// subscribers, per SPEC_FULL.md §4.6.
type Emitter struct {
	mu          sync.Mutex
	subscribers []Subscriber
	logger      func(format string, args ...interface{})
}

// NewEmitter builds an Emitter. A nil logger defaults to a no-op.
func NewEmitter(logger func(format string, args ...interface{})) *Emitter {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Emitter{logger: logger}
}

// Subscribe registers sub to receive future events. Returns an unsubscribe func.
func (e *Emitter) Subscribe(sub Subscriber) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, sub)
	idx := len(e.subscribers) - 1
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if idx < len(e.subscribers) {
			e.subscribers[idx] = nil
		}
	}
}

// Emit constructs a DownloadProgress event and delivers it to every live
// subscriber, in registration order, matching the order of the state
// transition that produced it.
func (e *Emitter) Emit(currentVersion, targetVersion int64, lastChunkSaved, targetChunksCount, targetChunkSize int, completed bool) {
	event := newProgress(currentVersion, targetVersion, lastChunkSaved, targetChunksCount, targetChunkSize, completed)

	e.mu.Lock()
	subs := make([]Subscriber, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.Unlock()

	for _, sub := range subs {
		if sub == nil {
			continue
		}
		e.deliver(sub, event)
	}
}

func (e *Emitter) deliver(sub Subscriber, event DownloadProgress) {
	defer func() {
		if r := recover(); r != nil {
			e.logger("progress subscriber panicked: %v", r)
		}
	}()
	sub(event)
}

// String renders a DownloadProgress for diagnostic logging.
func (p DownloadProgress) String() string {
	return fmt.Sprintf("version %d->%d: chunk %d/%d (%.1f%%) completed=%v",
		p.CurrentVersion, p.TargetVersion, p.LastChunkSaved, p.TargetChunksCount,
		p.TotalProgressPercent*100, p.IsCompleted)
}
