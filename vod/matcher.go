package vod

import (
	"sort"
	"time"

	"github.com/onnwee/vod-archiver/config"
	"github.com/onnwee/vod-archiver/scan"
)

// Matching policies, as accepted by MATCH_POLICY.
const (
	// MatchMultiPart lets several recordings claim the same VOD; they become parts.
	MatchMultiPart = config.PolicyMultiPart
	// MatchExclusive removes a VOD from the pool once a recording claims it.
	MatchExclusive = config.PolicyExclusive
)

// Part orderings within a group, as accepted by PART_ORDER.
const (
	OrderModTime = config.OrderModTime
	OrderName    = config.OrderName
)

// DefaultMatchWindow is the largest accepted gap between a recording's modification
// time and a VOD's creation time.
const DefaultMatchWindow = 48 * time.Hour

// Matcher pairs recordings with remote VODs by timestamp proximity.
type Matcher struct {
	Window time.Duration
	Policy string
	Order  string
}

// Group is the recordings matched to one VOD, in upload order.
type Group struct {
	Vod        RemoteVod
	Recordings []scan.RecordingFile
}

// MatchPlan is the outcome of matching one run's recordings.
type MatchPlan struct {
	Groups    []Group
	Unmatched []scan.RecordingFile
}

func (m Matcher) window() time.Duration {
	if m.Window <= 0 {
		return DefaultMatchWindow
	}
	return m.Window
}

// Match returns the VOD whose creation time is closest to rec's modification time,
// provided the gap is within the window. Equal gaps go to the earlier list entry.
func (m Matcher) Match(rec scan.RecordingFile, vods []RemoteVod) (RemoteVod, bool) {
	best := -1
	var bestDelta time.Duration
	for i, v := range vods {
		d := absDuration(v.CreatedAt.Sub(rec.ModifiedAt))
		if best < 0 || d < bestDelta {
			best, bestDelta = i, d
		}
	}
	if best < 0 || bestDelta > m.window() {
		return RemoteVod{}, false
	}
	return vods[best], true
}

// Plan matches every recording and groups the results by VOD. Recordings should be
// passed oldest first; groups are ordered by their first recording.
func (m Matcher) Plan(recs []scan.RecordingFile, vods []RemoteVod) MatchPlan {
	pool := append([]RemoteVod(nil), vods...)
	var plan MatchPlan
	index := map[string]int{}
	for _, rec := range recs {
		v, ok := m.Match(rec, pool)
		if !ok {
			plan.Unmatched = append(plan.Unmatched, rec)
			continue
		}
		if i, seen := index[v.ID]; seen {
			plan.Groups[i].Recordings = append(plan.Groups[i].Recordings, rec)
		} else {
			index[v.ID] = len(plan.Groups)
			plan.Groups = append(plan.Groups, Group{Vod: v, Recordings: []scan.RecordingFile{rec}})
		}
		if m.Policy == MatchExclusive {
			pool = removeVod(pool, v.ID)
		}
	}
	for i := range plan.Groups {
		m.sortGroup(plan.Groups[i].Recordings)
	}
	return plan
}

func (m Matcher) sortGroup(recs []scan.RecordingFile) {
	sort.SliceStable(recs, func(i, j int) bool {
		if m.Order == OrderName {
			if recs[i].Name != recs[j].Name {
				return recs[i].Name < recs[j].Name
			}
			return recs[i].Path < recs[j].Path
		}
		if !recs[i].ModifiedAt.Equal(recs[j].ModifiedAt) {
			return recs[i].ModifiedAt.Before(recs[j].ModifiedAt)
		}
		return recs[i].Path < recs[j].Path
	})
}

func removeVod(vods []RemoteVod, id string) []RemoteVod {
	out := vods[:0]
	for _, v := range vods {
		if v.ID != id {
			out = append(out, v)
		}
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
