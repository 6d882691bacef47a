package domain

// UserStanding is one row of the user leaderboard
type UserStanding struct {
	Rank             int64  `json:"rank"`
	UserID           string `json:"user_id"`
	Handle           string `json:"handle,omitempty"`
	DisplayName      string `json:"display_name,omitempty"`
	TerritoriesOwned int64  `json:"territories_owned"`
}

// TeamStanding is one row of the team leaderboard
type TeamStanding struct {
	Rank             int64  `json:"rank"`
	TeamID           string `json:"team_id"`
	TeamName         string `json:"team_name"`
	TerritoriesOwned int64  `json:"territories_owned"`
	MemberCount      int64  `json:"member_count"`
}
