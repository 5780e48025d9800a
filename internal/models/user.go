package models

// User is the profile returned by the remote store on login.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	IsDemo   bool   `json:"isDemo,omitempty"`
}
