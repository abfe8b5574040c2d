//go:build integration

package testutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rle/grps/internal/app"
	"github.com/rle/grps/internal/auth"
	"github.com/rle/grps/internal/infra"
	"github.com/rle/grps/internal/policy"
	"github.com/rle/grps/internal/provider"
	"github.com/rle/grps/internal/repository"
	"github.com/rle/grps/internal/service"
)

const (
	TestStaffSecret     = "integration-test-staff-secret-0123456789"
	TestAPIKey          = "integration-game-server-key"
	TestSignatureSecret = "integration-sync-secret"
	TestUniverseID      = 4242
	TestGroupID         = 99
	TestDBHost          = "localhost"
	TestDBPort          = 5435
	TestDBUser          = "grps"
	TestDBPass          = "grps"
	TestDBName          = "grps_test"
)

// TestEnv holds all resources for an integration test.
type TestEnv struct {
	Server   *httptest.Server
	Pool     *pgxpool.Pool
	JWTMgr   *auth.JWTManager
	Roblox   *FakeRoblox
	Services *app.Services
	t        *testing.T
}

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error
)

func testDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, TestDBName)
}

func bootstrapDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, "grps")
}

func ensureTestDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bPool, err := pgxpool.New(ctx, bootstrapDSN())
	if err != nil {
		return fmt.Errorf("connect bootstrap db: %w", err)
	}
	defer bPool.Close()

	var exists bool
	err = bPool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", TestDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check db exists: %w", err)
	}

	if !exists {
		if _, err = bPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", TestDBName)); err != nil {
			return fmt.Errorf("create test db: %w", err)
		}
	}
	return nil
}

func runMigrations() error {
	m, err := newMigrate("file://"+filepath.ToSlash(filepath.Join(findProjectRoot(), "db", "migrations")), testDSN())
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func findProjectRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		if err := ensureTestDB(); err != nil {
			poolErr = err
			return
		}
		if err := runMigrations(); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		poolCfg, err := pgxpool.ParseConfig(testDSN())
		if err != nil {
			poolErr = fmt.Errorf("parse pool config: %w", err)
			return
		}
		poolCfg.MaxConns = 10
		poolCfg.MinConns = 1

		sharedPool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			poolErr = fmt.Errorf("create pool: %w", err)
		}
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

const testLadder = `{"ranks": [
	{"name": "Suspended", "minPoints": 0, "isPunishment": true, "roleId": 90},
	{"name": "Initiate", "minPoints": 0, "roleId": 1},
	{"name": "Shock Trooper I", "minPoints": 100, "roleId": 2},
	{"name": "Shock Trooper II", "minPoints": 250, "roleId": 3},
	{"name": "Sergeant", "minPoints": 500, "level": "CMD", "roleId": 4},
	{"name": "Lieutenant", "minPoints": 1000, "privileged": true, "roleId": 5},
	{"name": "Commander", "minPoints": 2000, "level": "LDR", "roleId": 6}
]}`

// NewTestEnv creates a test environment with an httptest.Server backed by the real
// router, the test database and a fake Roblox API.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	rankPolicy, err := policy.Load(strings.NewReader(testLadder), policy.FormatJSON)
	if err != nil {
		t.Fatalf("load ladder: %v", err)
	}

	roblox := NewFakeRoblox(t)
	metrics := infra.MustNewMetrics(prometheus.NewRegistry())
	client := provider.NewRobloxClient(provider.RobloxConfig{
		APIKey:        "open-cloud-test-key",
		GroupID:       TestGroupID,
		APIBaseURL:    roblox.URL(),
		GroupsBaseURL: roblox.URL(),
		Timeout:       5 * time.Second,
	}, metrics, logger)

	cfg := &infra.Config{
		RobloxUniverseID: TestUniverseID,
		DatastoreName:    "GRPS_Points",
		DatastoreScope:   "global",
		DatastorePrefix:  "player:",
		MirrorEnabled:    true,
		ExternalTimeout:  5 * time.Second,
	}
	repos := service.Repos{
		DB:        pool,
		Tx:        repository.NewTxRunner(pool),
		Players:   repository.NewPlayerRepository(),
		Snapshots: repository.NewSnapshotRepository(),
		Outbox:    repository.NewOutboxRepository(),
	}
	svcs := app.BuildServices(cfg, rankPolicy, repos, client, metrics, logger)
	jwtMgr := auth.NewJWTManager(TestStaffSecret, time.Hour)

	router := app.NewRouter(app.RouterDeps{
		Services:        svcs,
		Repos:           repos,
		DB:              pool,
		Metrics:         metrics,
		Logger:          logger,
		StaffJWT:        jwtMgr,
		APIKeyHeader:    "x-grps-api-key",
		APIKeys:         []string{TestAPIKey},
		SignatureSecret: TestSignatureSecret,
		CORSOrigins:     "*",
	})
	server := httptest.NewServer(router)

	env := &TestEnv{
		Server:   server,
		Pool:     pool,
		JWTMgr:   jwtMgr,
		Roblox:   roblox,
		Services: svcs,
		t:        t,
	}

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svcs.Automation.Drain(ctx)
		env.CleanAll()
	})

	// Clean before test to ensure isolation
	env.CleanAll()

	return env
}
