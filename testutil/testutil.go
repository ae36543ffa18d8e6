package testutil

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/homefix/marketplace-api/config"
	"github.com/homefix/marketplace-api/utils"
	"gorm.io/gorm"
)

// RequireTestEnvironment ensures that tests are running in the test environment.
// This prevents accidental execution of tests against production or development databases.
// It will fail the test immediately if GO_ENV is not set to "test".
func RequireTestEnvironment(t *testing.T) {
	t.Helper()

	env := os.Getenv("GO_ENV")
	if env != "test" {
		t.Fatalf("SAFETY CHECK FAILED: Tests must run with GO_ENV=test to prevent data loss. Current GO_ENV=%q. Set GO_ENV=test before running tests.", env)
	}
}

// EnsureTestEnvironment sets GO_ENV to test when it is unset and reports
// whether the environment is safe to run tests in. Use this in TestMain.
func EnsureTestEnvironment() bool {
	env := os.Getenv("GO_ENV")
	if env == "" {
		os.Setenv("GO_ENV", "test")
		return true
	}
	if env != "test" {
		fmt.Fprintf(os.Stderr, "SAFETY CHECK FAILED: tests must run with GO_ENV=test (current %q)\n", env)
		return false
	}
	return true
}

var dbNameReplacer = strings.NewReplacer("/", "_", " ", "_", "#", "_")

// NewTestDB returns a migrated in-memory SQLite database private to t
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	url := fmt.Sprintf("file:%s?mode=memory&cache=shared", dbNameReplacer.Replace(t.Name()))
	db, err := config.ConnectDatabase(url, utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := config.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
