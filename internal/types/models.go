// internal/types/models.go
package types

// Session is one row of the master table: a named conversation thread
// between one user and one model configuration.
type Session struct {
	ID        SessionID `json:"session_id"`
	Name      string    `json:"session_name"`
	Owner     OwnerHash `json:"owner_hash"`
	Model     string    `json:"model_name"`
	CreatedAt string    `json:"created_at,omitempty"`
	UpdatedAt string    `json:"last_updated_at,omitempty"`
}

// Message is one row of a session's append-only log. Timestamps are kept
// in SQLite's CURRENT_TIMESTAMP text form.
type Message struct {
	Logline    int64  `json:"logline"`
	Role       string `json:"role"`
	Content    string `json:"message"`
	RecordedAt string `json:"time_record,omitempty"`
	Status     int    `json:"status"`
}

// UserInfo identifies the sender of an inbound chat event before hashing.
type UserInfo struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`
}

// Hash returns the storage key for this user.
func (u UserInfo) Hash() OwnerHash {
	return NewOwnerHash(u.Platform, u.UserID)
}
