package domain

import "time"

// Team is a named group of users ranked on the team leaderboard
type Team struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"invite_code"`
	OwnerID    string    `json:"owner_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Membership places one user in one team
type Membership struct {
	TeamID   string    `json:"team_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Profile is the identity data the leaderboard displays
type Profile struct {
	ID          string    `json:"id"`
	Handle      string    `json:"handle,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateTeamRequest represents a request to create a team
type CreateTeamRequest struct {
	Name string `json:"name"`
}

// JoinTeamRequest represents a request to join a team by invite code
type JoinTeamRequest struct {
	InviteCode string `json:"invite_code"`
}
