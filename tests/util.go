package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/trezcool/academia/core/classroom"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/storage/database"
)

// DatabaseURLEnv names the variable holding the postgres URL of the test database.
const DatabaseURLEnv = "TEST_DATABASE_URL"

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func CreateClass(t *testing.T, repo classroom.Repository, name, campusID string) classroom.Class {
	t.Helper()
	cls, err := repo.CreateClass(context.Background(), classroom.Class{Name: name, CampusID: campusID, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("createClass() failed: %v", err)
	}
	return cls
}

// PrepareDB opens the test database, migrates it and empties every table.
// The test is skipped when TEST_DATABASE_URL is not set.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	url := os.Getenv(DatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set", DatabaseURLEnv)
	}
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		t.Fatalf("sqlx.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db.DB); err != nil {
		t.Fatalf("database.Migrate() failed: %v", err)
	}
	ResetDB(t, db)
	return db
}

func ResetDB(t *testing.T, db *sqlx.DB) {
	t.Helper()
	// audit_log rejects DELETE, TRUNCATE bypasses row triggers
	q := `TRUNCATE audit_log, consent, moderation_queue, message_recipient, message, class, "user" CASCADE`
	if _, err := db.Exec(q); err != nil {
		t.Fatalf("ResetDB() failed: %v", err)
	}
}
