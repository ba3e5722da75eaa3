package models

import "time"

// CORSOrigin is an admin-approved cross-origin caller.
type CORSOrigin struct {
	ID        string    `db:"id" json:"id"`
	Origin    string    `db:"origin" json:"origin"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// CORSOriginRequest adds an origin to the allowlist.
type CORSOriginRequest struct {
	Origin string `json:"origin" validate:"required,max=2048"`
}
