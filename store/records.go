package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/onnwee/vod-archiver/chat"
)

// PartTypeVOD is the VideoPart type for uploaded recordings.
const PartTypeVOD = "vod"

// VideoPart is one uploaded segment of a VOD.
type VideoPart struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Duration     int    `json:"duration"`
	Part         int    `json:"part"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// ArchiveRecord is one entry of the archive list the site reads. Fields this
// program does not know about (for example ones set by an admin tool) are kept in
// Extra and written back unchanged.
type ArchiveRecord struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Duration     string            `json:"duration"`
	ThumbnailURL string            `json:"thumbnail_url"`
	YouTube      []VideoPart       `json:"youtube"`
	StreamID     *string           `json:"stream_id"`
	Drive        []json.RawMessage `json:"drive"`
	Platform     string            `json:"platform"`
	Chapters     []chat.Chapter    `json:"chapters"`
	Games        []json.RawMessage `json:"games"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`

	Extra map[string]json.RawMessage `json:"-"`
}

type recordFields ArchiveRecord

var knownRecordKeys = map[string]bool{
	"id": true, "title": true, "duration": true, "thumbnail_url": true, "youtube": true,
	"stream_id": true, "drive": true, "platform": true, "chapters": true, "games": true,
	"createdAt": true, "updatedAt": true,
}

func (r *ArchiveRecord) UnmarshalJSON(b []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	var f recordFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = ArchiveRecord(f)
	for k, v := range all {
		if knownRecordKeys[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes the known fields in their usual order followed by Extra keys
// in sorted order.
func (r ArchiveRecord) MarshalJSON() ([]byte, error) {
	f := recordFields(r)
	if f.YouTube == nil {
		f.YouTube = []VideoPart{}
	}
	if f.Drive == nil {
		f.Drive = []json.RawMessage{}
	}
	if f.Chapters == nil {
		f.Chapters = []chat.Chapter{}
	}
	if f.Games == nil {
		f.Games = []json.RawMessage{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return b, nil
	}
	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		if !knownRecordKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	for _, k := range keys {
		kb, _ := json.Marshal(k)
		buf.WriteByte(',')
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(r.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// VodParts returns the uploaded parts ordered by part number.
func (r *ArchiveRecord) VodParts() []VideoPart {
	out := make([]VideoPart, 0, len(r.YouTube))
	for _, p := range r.YouTube {
		if p.Type == PartTypeVOD && p.ID != "" {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Part < out[j].Part })
	return out
}

// NextPartNumber is one past the highest existing part number.
func (r *ArchiveRecord) NextPartNumber() int {
	max := 0
	for _, p := range r.YouTube {
		if p.Type == PartTypeVOD && p.Part > max {
			max = p.Part
		}
	}
	return max + 1
}

// HasPart reports whether a part with that number exists.
func (r *ArchiveRecord) HasPart(n int) bool {
	for _, p := range r.YouTube {
		if p.Type == PartTypeVOD && p.Part == n {
			return true
		}
	}
	return false
}

// UpsertPart inserts p or overwrites the part with the same number, then re-sorts.
func (r *ArchiveRecord) UpsertPart(p VideoPart) {
	if p.Type == "" {
		p.Type = PartTypeVOD
	}
	if p.ThumbnailURL == "" {
		p.ThumbnailURL = r.ThumbnailURL
	}
	replaced := false
	for i := range r.YouTube {
		if r.YouTube[i].Type == p.Type && r.YouTube[i].Part == p.Part {
			r.YouTube[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		r.YouTube = append(r.YouTube, p)
	}
	sort.SliceStable(r.YouTube, func(i, j int) bool { return r.YouTube[i].Part < r.YouTube[j].Part })
}

// ValidateParts checks that vod parts are numbered 1..n without gaps or duplicates.
func (r *ArchiveRecord) ValidateParts() error {
	parts := r.VodParts()
	for i, p := range parts {
		if p.Part != i+1 {
			return fmt.Errorf("record %s: part numbers not contiguous from 1 (position %d has part %d)", r.ID, i+1, p.Part)
		}
	}
	return nil
}

// SortRecords orders records newest first by CreatedAt.
func SortRecords(recs []*ArchiveRecord) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
}

// FindRecord returns the record with id, or nil.
func FindRecord(recs []*ArchiveRecord, id string) *ArchiveRecord {
	for _, r := range recs {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// RecordStore reads and writes the archive record list.
type RecordStore struct {
	Path  string
	Cache *DocCache
}

func NewRecordStore(path string, cache *DocCache) *RecordStore {
	return &RecordStore{Path: path, Cache: cache}
}

// Load returns all records; a missing file is an empty list.
func (s *RecordStore) Load() ([]*ArchiveRecord, error) {
	return s.load(false)
}

func (s *RecordStore) load(fresh bool) ([]*ArchiveRecord, error) {
	var recs []*ArchiveRecord
	if _, err := readDoc(s.Cache, s.Path, fresh, &recs); err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*ArchiveRecord{}
	}
	return recs, nil
}

// Upsert re-reads the list, replaces or appends rec by id, re-sorts and writes it.
// Fields this program never edits (drive links, games and unknown keys) are taken
// from the copy on disk, so edits made while a run holds an older snapshot survive.
func (s *RecordStore) Upsert(rec *ArchiveRecord) error {
	recs, err := s.load(true)
	if err != nil {
		return err
	}
	if cur := FindRecord(recs, rec.ID); cur != nil {
		rec.Extra = cur.Extra
		if cur.Drive != nil {
			rec.Drive = cur.Drive
		}
		if cur.Games != nil {
			rec.Games = cur.Games
		}
		*cur = *rec
	} else {
		recs = append(recs, rec)
	}
	SortRecords(recs)
	b, err := marshalDoc(recs)
	if err != nil {
		return err
	}
	return s.Cache.Write(s.Path, b)
}
