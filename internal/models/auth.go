package models

import "time"

// TokenTypeBearer is the access token type returned to clients.
const TokenTypeBearer = "Bearer"

// SignupRequest registers a new account.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	// Secret carries the X-Signup-Secret header.
	Secret string `json:"-"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuthResponse is returned by signup and login.
type AuthResponse struct {
	User        UserInfo `json:"user"`
	AccessToken string   `json:"accessToken"`
	TokenType   string   `json:"tokenType"`
	ExpiresIn   int      `json:"expiresIn"`
}

// RefreshResponse is returned by refresh.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int    `json:"expiresIn"`
}

// LogoutResponse is returned by logout.
type LogoutResponse struct {
	Success bool `json:"success"`
}

// MeResponse describes the bearer of an access token.
type MeResponse struct {
	User      UserInfo `json:"user"`
	SessionID string   `json:"sessionId"`
}

// RefreshCredential is the refresh token handed to the HTTP layer for the cookie.
type RefreshCredential struct {
	Token     string
	ExpiresAt time.Time
}

// AuthResult bundles the response body with the new refresh credential.
type AuthResult struct {
	Response AuthResponse
	Refresh  RefreshCredential
}

// RefreshResult bundles a refresh response with the rotated credential.
type RefreshResult struct {
	Response RefreshResponse
	Refresh  RefreshCredential
}

// ValidatedSession is the outcome of validating a refresh token without rotating it.
type ValidatedSession struct {
	User      *User
	SessionID string
}
