package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/dom/pickup-match/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPassword satisfies the password rules
const DefaultPassword = "Password123"

// UserBuilder creates test users with a builder pattern
type UserBuilder struct {
	email       string
	username    string
	displayName string
	password    string
	role        domain.Role
	active      bool
	noPassword  bool
}

// NewUserBuilder creates a new UserBuilder with default values
func NewUserBuilder() *UserBuilder {
	suffix := uuid.New().String()[:8]
	return &UserBuilder{
		email:       fmt.Sprintf("user_%s@example.com", suffix),
		username:    fmt.Sprintf("user_%s", suffix),
		displayName: fmt.Sprintf("Test User %s", suffix),
		password:    DefaultPassword,
		role:        domain.RoleUser,
		active:      true,
	}
}

// WithEmail sets the email
func (b *UserBuilder) WithEmail(email string) *UserBuilder {
	b.email = email
	return b
}

// WithUsername sets the username
func (b *UserBuilder) WithUsername(username string) *UserBuilder {
	b.username = username
	return b
}

// WithDisplayName sets the display name
func (b *UserBuilder) WithDisplayName(name string) *UserBuilder {
	b.displayName = name
	return b
}

// WithPassword sets the password
func (b *UserBuilder) WithPassword(password string) *UserBuilder {
	b.password = password
	return b
}

// WithRole sets the role
func (b *UserBuilder) WithRole(role domain.Role) *UserBuilder {
	b.role = role
	return b
}

// Inactive marks the user deactivated
func (b *UserBuilder) Inactive() *UserBuilder {
	b.active = false
	return b
}

// WithoutPassword creates an OAuth-only account
func (b *UserBuilder) WithoutPassword() *UserBuilder {
	b.noPassword = true
	return b
}

// Build creates the user in the database and returns the user with the raw password
func (b *UserBuilder) Build(t *testing.T, db *gorm.DB) (*domain.User, string) {
	t.Helper()

	user := domain.NewUser(b.email, b.username, b.displayName)
	user.Role = b.role

	if !b.noPassword {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(b.password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("failed to hash password: %v", err)
		}
		hash := string(hashedPassword)
		user.PasswordHash = &hash
	}

	if err := db.Omit(clause.Associations).Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if !b.active {
		if err := db.Model(user).Update("is_active", false).Error; err != nil {
			t.Fatalf("failed to deactivate user: %v", err)
		}
		user.IsActive = false
	}

	return user, b.password
}

// AuthResponse matches the API auth response
type AuthResponse struct {
	User struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		Username    string `json:"username"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// BuildAndAuthenticate registers the user via API and returns the user and tokens
func (b *UserBuilder) BuildAndAuthenticate(t *testing.T, ts *TestServer) (*domain.User, *AuthResponse) {
	t.Helper()

	reqBody := map[string]string{
		"email":       b.email,
		"username":    b.username,
		"displayName": b.displayName,
		"password":    b.password,
	}
	body, _ := json.Marshal(reqBody)

	resp, err := http.Post(ts.APIURL("/auth/register"), "application/json", bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("failed to register user: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	var authResp AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	userID, _ := uuid.Parse(authResp.User.ID)
	user := &domain.User{
		ID:          userID,
		Email:       authResp.User.Email,
		Username:    authResp.User.Username,
		DisplayName: authResp.User.DisplayName,
		Role:        domain.Role(authResp.User.Role),
	}

	return user, &authResp
}

// MatchBuilder creates test matches with a builder pattern
type MatchBuilder struct {
	host        *domain.User
	opponent    *domain.User
	status      domain.MatchStatus
	title       string
	location    string
	scheduledAt time.Time
	category    domain.MatchCategory
	locCategory domain.LocationCategory
	description *string
}

// NewMatchBuilder creates a new MatchBuilder with default values
func NewMatchBuilder() *MatchBuilder {
	return &MatchBuilder{
		status:      domain.MatchStatusPending,
		title:       "Pickup game",
		location:    "Community court",
		scheduledAt: time.Now().Add(24 * time.Hour),
		category:    domain.CategoryFriendly,
		locCategory: domain.LocationOutdoor,
	}
}

// WithHost sets the host
func (b *MatchBuilder) WithHost(user *domain.User) *MatchBuilder {
	b.host = user
	return b
}

// WithOpponent sets the opponent
func (b *MatchBuilder) WithOpponent(user *domain.User) *MatchBuilder {
	b.opponent = user
	return b
}

// WithStatus sets the status
func (b *MatchBuilder) WithStatus(status domain.MatchStatus) *MatchBuilder {
	b.status = status
	return b
}

// WithTitle sets the title
func (b *MatchBuilder) WithTitle(title string) *MatchBuilder {
	b.title = title
	return b
}

// WithDescription sets the description
func (b *MatchBuilder) WithDescription(description string) *MatchBuilder {
	b.description = &description
	return b
}

// WithLocation sets the location text
func (b *MatchBuilder) WithLocation(location string) *MatchBuilder {
	b.location = location
	return b
}

// WithCategory sets the match category
func (b *MatchBuilder) WithCategory(category domain.MatchCategory) *MatchBuilder {
	b.category = category
	return b
}

// ScheduledAt sets the scheduled time
func (b *MatchBuilder) ScheduledAt(at time.Time) *MatchBuilder {
	b.scheduledAt = at
	return b
}

// Build creates the match in the database
func (b *MatchBuilder) Build(t *testing.T, db *gorm.DB) *domain.Match {
	t.Helper()

	if b.host == nil {
		b.host, _ = NewUserBuilder().Build(t, db)
	}

	now := time.Now()
	match := &domain.Match{
		ID:               uuid.New(),
		Title:            b.title,
		Description:      b.description,
		ScheduledAt:      b.scheduledAt,
		Location:         b.location,
		LocationCategory: b.locCategory,
		Category:         b.category,
		Status:           b.status,
		MaxPlayers:       domain.DefaultMaxPlayers,
		HostID:           b.host.ID,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	match.SetMediaURLs(nil)
	if b.opponent != nil {
		id := b.opponent.ID
		match.OpponentID = &id
	}
	if b.status == domain.MatchStatusCompleted {
		match.CompletedAt = &now
	}

	if err := db.Omit(clause.Associations).Create(match).Error; err != nil {
		t.Fatalf("failed to create match: %v", err)
	}

	return match
}

// CreateAuthenticatedRequest creates an HTTP request with auth token
func CreateAuthenticatedRequest(t *testing.T, method, url string, body interface{}, token string) *http.Request {
	t.Helper()

	var bodyReader *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	} else {
		bodyReader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

// Do sends req with the default client and fails the test on transport errors
func Do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}
