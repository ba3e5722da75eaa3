package models

import "time"

// Session is one refresh session. A rotated session points at its successor
// through ReplacedBySessionID.
type Session struct {
	ID                  string     `db:"id" json:"id"`
	UserID              string     `db:"user_id" json:"userId"`
	RefreshTokenHash    string     `db:"refresh_token_hash" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
	ExpiresAt           time.Time  `db:"expires_at" json:"expiresAt"`
	RevokedAt           *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
	ReplacedBySessionID *string    `db:"replaced_by_session_id" json:"replacedBySessionId,omitempty"`
	IPAddress           string     `db:"ip_address" json:"ipAddress"`
	UserAgent           string     `db:"user_agent" json:"userAgent"`
}

// Active reports whether the session can still be refreshed at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ReplacedBySessionID == nil && s.ExpiresAt.After(now)
}

// SessionMeta describes the client presenting a credential.
type SessionMeta struct {
	IP        string
	UserAgent string
}

// RotateResult is returned by a successful rotation.
type RotateResult struct {
	PreviousID string
	Next       *Session
}
