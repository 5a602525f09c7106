package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the roles recognised by the scheduling API.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleManager UserRole = "MANAGER"
	RoleTeacher UserRole = "TEACHER"
)

// JWTClaims are the claims carried by access tokens issued by the external auth service.
type JWTClaims struct {
	UserID string   `json:"sub_id"`
	Name   string   `json:"name"`
	Role   UserRole `json:"role"`
	Branch string   `json:"branch,omitempty"`
	jwt.RegisteredClaims
}

// ActorName returns the value recorded as changed_by in history.
func (c *JWTClaims) ActorName() string {
	if c == nil {
		return SystemActor
	}
	if c.Name != "" {
		return c.Name
	}
	if c.UserID != "" {
		return c.UserID
	}
	return SystemActor
}

// SystemActor is recorded when no authenticated user is attached to a change.
const SystemActor = "system"
