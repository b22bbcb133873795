package model

import "time"

// User represents a registered account. GitHub is the identity provider, so
// the external identifier is the GitHub user ID; ID is our own xid so that
// snippet ownership never depends on a third party's numbering.
//
// Email may be empty when the user hides it on GitHub.
type User struct {
	ID        string    `json:"id"`
	GitHubID  int64     `json:"githubId"`
	Login     string    `json:"login"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
