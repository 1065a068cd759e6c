package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dom/pickup-match/internal/api"
	"github.com/dom/pickup-match/internal/config"
	"github.com/dom/pickup-match/internal/oauth"
	"github.com/dom/pickup-match/internal/repository"
	repoPostgres "github.com/dom/pickup-match/internal/repository/postgres"
	"github.com/dom/pickup-match/internal/service"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB manages a testcontainers PostgreSQL instance
type TestDB struct {
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

// NewTestDB creates a new PostgreSQL testcontainer and returns a connection.
// Tests using it are skipped with -short.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	ctx := context.Background()

	container, err := tcPostgres.Run(ctx,
		"postgres:15-alpine",
		tcPostgres.WithDatabase("test_pickup_match"),
		tcPostgres.WithUsername("test"),
		tcPostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := repoPostgres.Open(dsn, logger.Silent)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := repoPostgres.Migrate(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	testDB := &TestDB{
		Container: container,
		DB:        db,
		DSN:       dsn,
	}

	t.Cleanup(func() {
		testDB.Cleanup()
	})

	return testDB
}

// Cleanup terminates the container
func (tdb *TestDB) Cleanup() {
	if tdb.Container != nil {
		ctx := context.Background()
		tdb.Container.Terminate(ctx)
	}
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	tables := []string{
		"match_logs",
		"matches",
		"refresh_tokens",
		"external_identities",
		"users",
	}

	for _, table := range tables {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *config.Config {
	return &config.Config{
		Port:                "0", // Random port
		Environment:         "test",
		LogLevel:            "disabled",
		CORSOrigins:         []string{"http://localhost:3000"},
		JWTSecret:           "test-jwt-secret-key-for-testing-only",
		JWTIssuer:           "pickup-match-test",
		AccessTokenTTL:      15 * time.Minute,
		RefreshTokenTTL:     24 * time.Hour,
		PasswordHasher:      "bcrypt",
		TokenSweepInterval:  time.Hour,
		TokenRetentionAfter: time.Hour,
		AppBaseURL:          "http://localhost:3000",
	}
}

// NewTestServices wires the services against testDB.
func NewTestServices(t *testing.T, testDB *TestDB, deps ...func(*service.Dependencies)) (*service.Services, *repository.Repositories) {
	t.Helper()

	repos := repoPostgres.NewRepositories(testDB.DB)
	d := service.Dependencies{
		Repos:  repos,
		Tx:     repoPostgres.NewTransactor(testDB.DB),
		Config: TestConfig(),
		Logger: zerolog.Nop(),
	}
	for _, fn := range deps {
		fn(&d)
	}

	services, err := service.NewServices(d)
	if err != nil {
		t.Fatalf("failed to build services: %v", err)
	}
	return services, repos
}

// TestServer holds all components for integration testing
type TestServer struct {
	Server   *httptest.Server
	DB       *TestDB
	Repos    *repository.Repositories
	Services *service.Services
	Config   *config.Config
}

// NewTestServer creates a complete test server with all dependencies
func NewTestServer(t *testing.T, providers ...oauth.Provider) *TestServer {
	t.Helper()

	testDB := NewTestDB(t)
	cfg := TestConfig()

	services, repos := NewTestServices(t, testDB)
	router := api.NewRouter(services, oauth.NewRegistry(providers...), cfg, zerolog.Nop())

	server := httptest.NewServer(router)

	ts := &TestServer{
		Server:   server,
		DB:       testDB,
		Repos:    repos,
		Services: services,
		Config:   cfg,
	}

	t.Cleanup(func() {
		server.Close()
	})

	return ts
}

// BaseURL returns the test server's base URL
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// APIURL returns the full API URL for a given path
func (ts *TestServer) APIURL(path string) string {
	return fmt.Sprintf("%s/api/v1%s", ts.Server.URL, path)
}
