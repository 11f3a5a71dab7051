package models

import (
	"time"

	"github.com/lib/pq"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleValidator  UserRole = "VALIDATOR"
	RoleModelOwner UserRole = "MODEL_OWNER"
	RoleAuditor    UserRole = "AUDITOR"
)

// User represents an application user stored in the users table.
// AuthorizedRegions is the approver's own authorization set; it gates
// approval submission but is never used for aggregation, which reads the
// represented_region snapshot instead.
type User struct {
	ID                string         `db:"id" json:"id"`
	Email             string         `db:"email" json:"email"`
	PasswordHash      string         `db:"password_hash" json:"-"`
	FullName          string         `db:"full_name" json:"full_name"`
	Role              UserRole       `db:"role" json:"role"`
	Active            bool           `db:"active" json:"active"`
	AuthorizedRegions pq.StringArray `db:"authorized_regions" json:"authorized_regions"`
	LastLogin         *time.Time     `db:"last_login" json:"last_login,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
