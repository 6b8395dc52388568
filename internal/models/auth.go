package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens. StudentID is set
// for student accounts only.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	Email     string   `json:"email"`
	FullName  string   `json:"full_name"`
	StudentID string   `json:"student_id,omitempty"`
	jwt.RegisteredClaims
}

// Reviewer returns the claims as a request reviewer.
func (c *JWTClaims) Reviewer() Reviewer {
	if c == nil {
		return Reviewer{}
	}
	return Reviewer{UserID: c.UserID, Role: c.Role}
}
