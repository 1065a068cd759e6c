package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser    Role = "USER"
	RoleReferee Role = "REFEREE"
	RoleAdmin   Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleReferee, RoleAdmin:
		return true
	}
	return false
}

// OAuth providers accepted by LinkOrCreateFromExternalIdentity
const (
	ProviderGoogle = "google"
	ProviderKakao  = "kakao"
)

// User is one person. Pure-OAuth accounts have no password hash.
type User struct {
	ID                     uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Email                  string     `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash           *string    `json:"-"`
	Username               string     `json:"username" gorm:"uniqueIndex;size:30;not null"`
	DisplayName            string     `json:"displayName" gorm:"size:50;not null"`
	Phone                  *string    `json:"phone,omitempty" gorm:"size:20"`
	AvatarURL              *string    `json:"avatarUrl,omitempty"`
	Role                   Role       `json:"role" gorm:"type:varchar(10);not null;default:'USER'"`
	IsActive               bool       `json:"isActive" gorm:"not null;default:true"`
	EmailVerified          bool       `json:"emailVerified" gorm:"not null;default:false"`
	EmailVerificationToken *string    `json:"-" gorm:"size:64"`
	LastLoginAt            *time.Time `json:"lastLoginAt"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`

	// Relations
	ExternalIdentities []ExternalIdentity `json:"externalIdentities,omitempty" gorm:"foreignKey:UserID"`
}

// TableName returns the table name for GORM
func (User) TableName() string {
	return "users"
}

// HasPassword reports whether the user can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// NewUser builds an active USER-role identity with fresh id and timestamps.
func NewUser(email, username, displayName string) *User {
	now := time.Now()
	return &User{
		ID:          uuid.New(),
		Email:       NormalizeEmail(email),
		Username:    username,
		DisplayName: displayName,
		Role:        RoleUser,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NormalizeEmail lower-cases and trims an address so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ExternalIdentity links a user to an account at an OAuth provider.
type ExternalIdentity struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID     uuid.UUID `json:"userId" gorm:"type:uuid;not null;index"`
	Provider   string    `json:"provider" gorm:"size:20;not null;uniqueIndex:idx_provider_subject"`
	ProviderID string    `json:"providerId" gorm:"not null;uniqueIndex:idx_provider_subject"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName returns the table name for GORM
func (ExternalIdentity) TableName() string {
	return "external_identities"
}

// ExternalClaims are the verified identity claims produced by an OAuth exchange.
type ExternalClaims struct {
	Provider    string
	ProviderID  string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Caller is the authenticated identity attached to a protected request.
type Caller struct {
	ID   uuid.UUID
	Role Role
}
