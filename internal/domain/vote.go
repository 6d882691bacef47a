package domain

// VoteAction describes what a cast vote did to the ledger
type VoteAction string

const (
	VoteActionAdded   VoteAction = "added"
	VoteActionRemoved VoteAction = "removed"
	VoteActionMoved   VoteAction = "moved"
)

// CastVoteResult is returned by the cast-vote protocol
type CastVoteResult struct {
	Action       VoteAction `json:"action"`
	ClipID       string     `json:"clip_id"`
	TerritoryID  string     `json:"territory_id"`
	NewVoteCount int64      `json:"new_vote_count"`
	OwnerID      *string    `json:"owner_id,omitempty"`
}
