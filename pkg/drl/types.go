package drl

import "time"

// VersionInfo is the server's published version descriptor, per SPEC_FULL.md §3.
type VersionInfo struct {
	Version         int64  `json:"version" cbor:"version"`
	ID              string `json:"id" cbor:"id"`
	TotalNumberUCVI int    `json:"total_number_ucvi" cbor:"total_number_ucvi"`
	TotalChunks     int    `json:"total_chunks" cbor:"total_chunks"`
	SingleChunkSize int    `json:"single_chunk_size" cbor:"single_chunk_size"`
}

// Delta is the insertions/deletions pair carried by a differential chunk.
type Delta struct {
	Insertions []string `json:"insertions" cbor:"insertions"`
	Deletions  []string `json:"deletions" cbor:"deletions"`
}

// ChunkData is one numbered slice of a version transition's payload. Exactly
// one of RevokedUCVIList or Delta is populated, per SPEC_FULL.md §3.
type ChunkData struct {
	VersionInfo
	Chunk int `json:"chunk" cbor:"chunk"`

	// RevokedUCVIList is the full-snapshot form. Non-empty with Chunk == 1
	// means "not a differential update".
	RevokedUCVIList []string `json:"revoked_ucvi_list,omitempty" cbor:"revoked_ucvi_list,omitempty"`

	// Delta is the differential form: insertions and deletions relative to
	// the previous version.
	Delta *Delta `json:"delta,omitempty" cbor:"delta,omitempty"`
}

// IsNonIncrementalFirstChunk reports whether this chunk is the first chunk
// of a full-snapshot replacement, per SPEC_FULL.md §4.3 step 2.b — the
// trigger for wiping the locally stored set before applying it.
//
// This assumes the server never repeats the full snapshot across chunks
// beyond the first (SPEC_FULL.md §9, second open question): chunks after
// chunk 1 of a non-incremental update are always applied as plain inserts,
// never treated as a wipe trigger.
func (c ChunkData) IsNonIncrementalFirstChunk() bool {
	return len(c.RevokedUCVIList) > 0 && c.Chunk == 1
}

// SyncStatus is the singleton record tracking local vs. target DRL version,
// per SPEC_FULL.md §3.
type SyncStatus struct {
	CurrentVersion        int64     `cbor:"current_version"`
	CurrentVersionID      string    `cbor:"current_version_id"`
	TargetVersion         int64     `cbor:"target_version"`
	TargetVersionID       string    `cbor:"target_version_id"`
	TargetChunksCount     int       `cbor:"target_chunks_count"`
	TargetChunkSize       int       `cbor:"target_chunk_size"`
	TargetTotalNumberUCVI int       `cbor:"target_total_number_ucvi"`
	LastChunkSaved        int       `cbor:"last_chunk_saved"`
	LastCheck             time.Time `cbor:"last_check"`
}

// HasCurrentVersion reports current_version > 0.
func (s SyncStatus) HasCurrentVersion() bool {
	return s.CurrentVersion > 0
}

// CurrentVersionMatchesTarget reports that the installed version is already
// the target version.
func (s SyncStatus) CurrentVersionMatchesTarget() bool {
	return s.CurrentVersion == s.TargetVersion && s.CurrentVersionID == s.TargetVersionID
}

// AnyChunkDownloaded reports last_chunk_saved > 0.
func (s SyncStatus) AnyChunkDownloaded() bool {
	return s.LastChunkSaved > 0
}

// HasPendingDownload reports that a target is known and not fully applied.
func (s SyncStatus) HasPendingDownload() bool {
	return s.TargetChunksCount > 0 && s.LastChunkSaved < s.TargetChunksCount
}

// IsSameVersion reports that the locally installed version matches info.
func (s SyncStatus) IsSameVersion(info VersionInfo) bool {
	return s.CurrentVersion == info.Version && s.CurrentVersionID == info.ID
}

// IsTargetVersion reports that info describes the version currently targeted.
func (s SyncStatus) IsTargetVersion(info VersionInfo) bool {
	return s.TargetVersion == info.Version && s.TargetVersionID == info.ID
}

// IsTargetVersionConsistent reports IsTargetVersion(info) and that the
// recorded chunk count for the target matches info's.
func (s SyncStatus) IsTargetVersionConsistent(info VersionInfo) bool {
	return s.IsTargetVersion(info) && s.TargetChunksCount == info.TotalChunks
}

// withTarget returns a copy of s with target fields adopted from info and
// LastChunkSaved reset to zero, per SPEC_FULL.md §4.3 step 2.a.
func (s SyncStatus) withTarget(info VersionInfo) SyncStatus {
	s.TargetVersion = info.Version
	s.TargetVersionID = info.ID
	s.TargetChunksCount = info.TotalChunks
	s.TargetChunkSize = info.SingleChunkSize
	s.TargetTotalNumberUCVI = info.TotalNumberUCVI
	s.LastChunkSaved = 0
	return s
}

// resetEmpty returns a copy of s with every current/target field zeroed,
// the "Empty" state of the FSM described in SPEC_FULL.md §4.3.
func (s SyncStatus) resetEmpty() SyncStatus {
	return SyncStatus{LastCheck: s.LastCheck}
}
