package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionSignup               = "SIGNUP"
	AuditActionLogin                = "LOGIN"
	AuditActionLoginFailed          = "LOGIN_FAILED"
	AuditActionLogout               = "LOGOUT"
	AuditActionRefresh              = "REFRESH"
	AuditActionRefreshReuseDetected = "REFRESH_REUSE_DETECTED"
	AuditActionSessionRevoke        = "SESSION_REVOKE"
	AuditActionUserUpdate           = "USER_UPDATE"
	AuditActionUserDelete           = "USER_DELETE"
	AuditActionCORSOriginCreate     = "CORS_ORIGIN_CREATE"
	AuditActionCORSOriginDelete     = "CORS_ORIGIN_DELETE"
)

// Audit resources.
const (
	AuditResourceSession    = "session"
	AuditResourceUser       = "user"
	AuditResourceCORSOrigin = "cors_origin"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"userId,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resourceId,omitempty"`
	NewValues  *string   `db:"new_values" json:"newValues,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ipAddress"`
	UserAgent  string    `db:"user_agent" json:"userAgent"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
