package models

import "time"

// User represents an account stored in the users table.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Info is the public projection of a user.
func (u *User) Info() UserInfo {
	return UserInfo{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Search   string `form:"search"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
}

// UserList is the admin listing payload.
type UserList struct {
	Users      []UserInfo `json:"users"`
	Pagination Pagination `json:"pagination"`
}

// UpdateUserRequest edits a user from the admin surface. Omitted fields are unchanged.
type UpdateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email,max=254"`
	Password *string `json:"password" validate:"omitempty,min=8,max=128"`
}
