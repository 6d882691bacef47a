package domain

import (
	"sort"
	"time"
)

// Territory is a claimable spot. OwnerID is derived from its clips and is nil
// when the territory has none.
type Territory struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   *string   `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Clip is one uploaded attempt at a territory
type Clip struct {
	ID          string    `json:"id"`
	TerritoryID string    `json:"territory_id"`
	OwnerID     string    `json:"owner_id"`
	VoteCount   int64     `json:"vote_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Vote is one ledger fact. TerritoryID is copied from the clip so the store
// can index a voter's vote per territory.
type Vote struct {
	ID          string    `json:"id"`
	VoterID     string    `json:"voter_id"`
	ClipID      string    `json:"clip_id"`
	TerritoryID string    `json:"territory_id"`
	CastAt      time.Time `json:"cast_at"`
}

// Ownership pairs an owned territory with its owner
type Ownership struct {
	TerritoryID string
	OwnerID     string
}

// TerritoryDetail is the read model returned for a single territory
type TerritoryDetail struct {
	Territory
	Clips []Clip `json:"clips"`
}

// Outranks reports whether clip a beats clip b for ownership: more votes,
// then earlier creation, then lowest id.
func Outranks(a, b Clip) bool {
	if a.VoteCount != b.VoteCount {
		return a.VoteCount > b.VoteCount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// RankClips sorts clips in ownership order, winner first
func RankClips(clips []Clip) {
	sort.SliceStable(clips, func(i, j int) bool {
		return Outranks(clips[i], clips[j])
	})
}

// WinningClip returns the clip that owns the territory, or nil if there are no clips
func WinningClip(clips []Clip) *Clip {
	if len(clips) == 0 {
		return nil
	}
	best := clips[0]
	for _, c := range clips[1:] {
		if Outranks(c, best) {
			best = c
		}
	}
	return &best
}
