package store

import (
	"encoding/json"
	"sort"
	"time"
)

// StatusCompleted marks a recording whose upload has been checkpointed.
const StatusCompleted = "completed"

// FileEntry is the checkpoint for one recording path.
type FileEntry struct {
	Status      string    `json:"status"`
	RemoteVodID string    `json:"remote_vod_id"`
	VideoPartID string    `json:"video_part_id"`
	PartNumber  int       `json:"part_number"`
	ProcessedAt time.Time `json:"processed_at,omitzero"`
}

// UnmarshalJSON also accepts the camelCase keys older state files were written with.
func (e *FileEntry) UnmarshalJSON(b []byte) error {
	type plain FileEntry
	var aux struct {
		plain
		TwitchVodID    string    `json:"twitchVodId"`
		YoutubeVideoID string    `json:"youtubeVideoId"`
		Part           int       `json:"part"`
		LegacyAt       time.Time `json:"processedAt"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*e = FileEntry(aux.plain)
	if e.RemoteVodID == "" {
		e.RemoteVodID = aux.TwitchVodID
	}
	if e.VideoPartID == "" {
		e.VideoPartID = aux.YoutubeVideoID
	}
	if e.PartNumber == 0 {
		e.PartNumber = aux.Part
	}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = aux.LegacyAt
	}
	return nil
}

// VodEntry tracks per-VOD bookkeeping outside the archive record itself.
type VodEntry struct {
	MetadataVersion    int       `json:"metadata_version"`
	MetadataSyncedAt   time.Time `json:"metadata_synced_at,omitzero"`
	EmotesBackfilledAt time.Time `json:"emotes_backfilled_at,omitzero"`
	UpdatedAt          time.Time `json:"updated_at,omitzero"`
}

func (e *VodEntry) UnmarshalJSON(b []byte) error {
	type plain VodEntry
	var aux struct {
		plain
		Version    int       `json:"metadataVersion"`
		SyncedAt   time.Time `json:"metadataSyncedAt"`
		Backfilled time.Time `json:"emotesBackfilledAt"`
		Updated    time.Time `json:"updatedAt"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*e = VodEntry(aux.plain)
	if e.MetadataVersion == 0 {
		e.MetadataVersion = aux.Version
	}
	if e.MetadataSyncedAt.IsZero() {
		e.MetadataSyncedAt = aux.SyncedAt
	}
	if e.EmotesBackfilledAt.IsZero() {
		e.EmotesBackfilledAt = aux.Backfilled
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = aux.Updated
	}
	return nil
}

// PipelineState is the crash-resumption document.
type PipelineState struct {
	ProcessedFiles  map[string]FileEntry `json:"processedFiles"`
	ProcessedVodIDs map[string]VodEntry  `json:"processedVodIds"`
}

func NewPipelineState() *PipelineState {
	return &PipelineState{
		ProcessedFiles:  map[string]FileEntry{},
		ProcessedVodIDs: map[string]VodEntry{},
	}
}

func (s *PipelineState) ensure() {
	if s.ProcessedFiles == nil {
		s.ProcessedFiles = map[string]FileEntry{}
	}
	if s.ProcessedVodIDs == nil {
		s.ProcessedVodIDs = map[string]VodEntry{}
	}
}

// IsCompleted reports whether path has a completed checkpoint.
func (s *PipelineState) IsCompleted(path string) bool {
	if s == nil {
		return false
	}
	e, ok := s.ProcessedFiles[path]
	return ok && e.Status == StatusCompleted
}

// MetadataVersion returns the template version last synced for vodID, 0 if never.
func (s *PipelineState) MetadataVersion(vodID string) int {
	if s == nil {
		return 0
	}
	return s.ProcessedVodIDs[vodID].MetadataVersion
}

// CompletedPart is a completed checkpoint together with its recording path.
type CompletedPart struct {
	Path string
	FileEntry
}

// CompletedParts returns the completed checkpoints for vodID ordered by part number.
func (s *PipelineState) CompletedParts(vodID string) []CompletedPart {
	var out []CompletedPart
	if s == nil {
		return out
	}
	for p, e := range s.ProcessedFiles {
		if e.Status == StatusCompleted && e.RemoteVodID == vodID && e.VideoPartID != "" && e.PartNumber > 0 {
			out = append(out, CompletedPart{Path: p, FileEntry: e})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PartNumber != out[j].PartNumber {
			return out[i].PartNumber < out[j].PartNumber
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// CompletedVodIDs returns every VOD id referenced by a completed checkpoint.
func (s *PipelineState) CompletedVodIDs() []string {
	seen := map[string]struct{}{}
	var out []string
	if s == nil {
		return out
	}
	for _, e := range s.ProcessedFiles {
		if e.Status != StatusCompleted || e.RemoteVodID == "" {
			continue
		}
		if _, ok := seen[e.RemoteVodID]; ok {
			continue
		}
		seen[e.RemoteVodID] = struct{}{}
		out = append(out, e.RemoteVodID)
	}
	sort.Strings(out)
	return out
}

// StateStore reads and writes the PipelineState file.
type StateStore struct {
	Path  string
	Cache *DocCache
}

func NewStateStore(path string, cache *DocCache) *StateStore {
	return &StateStore{Path: path, Cache: cache}
}

// Load returns the current state; a missing file is an empty state.
func (s *StateStore) Load() (*PipelineState, error) {
	return s.load(false)
}

func (s *StateStore) load(fresh bool) (*PipelineState, error) {
	st := NewPipelineState()
	if _, err := readDoc(s.Cache, s.Path, fresh, st); err != nil {
		return nil, err
	}
	st.ensure()
	return st, nil
}

// Update re-reads the state from disk, applies fn and writes the result atomically.
// It returns the state as written.
func (s *StateStore) Update(fn func(*PipelineState)) (*PipelineState, error) {
	st, err := s.load(true)
	if err != nil {
		return nil, err
	}
	fn(st)
	b, err := marshalDoc(st)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Write(s.Path, b); err != nil {
		return nil, err
	}
	return st, nil
}

// MarkCompleted durably records a completed upload for path.
func (s *StateStore) MarkCompleted(path string, e FileEntry) (*PipelineState, error) {
	e.Status = StatusCompleted
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}
	return s.Update(func(st *PipelineState) {
		st.ProcessedFiles[path] = e
	})
}

// UpdateVod applies fn to the entry for vodID and stamps UpdatedAt.
func (s *StateStore) UpdateVod(vodID string, fn func(*VodEntry)) (*PipelineState, error) {
	return s.Update(func(st *PipelineState) {
		e := st.ProcessedVodIDs[vodID]
		fn(&e)
		e.UpdatedAt = time.Now().UTC()
		st.ProcessedVodIDs[vodID] = e
	})
}
