package database

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestDB opens an in-memory SQLite database named after the test. The
// pool is capped at one connection so the shared in-memory database stays
// alive and concurrent goroutines interleave at statement granularity,
// which is exactly the weak-atomicity model the conflict protocol targets.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := New(&Config{Driver: "sqlite", DSN: dsn, Domain: "test.local"})
	require.NoError(t, err)

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&User{}, &Sender{}, &Relationship{}, &Folder{},
		&SharedContent{}, &UserNewsletter{}, &CommunityPublish{}, &IngestLog{},
	))

	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)

	user, err := db.CreateUser("Reader@Example.com", "hunter2", "user")
	require.NoError(t, err)
	require.Equal(t, "reader@example.com", user.Email)
	require.True(t, strings.HasSuffix(user.InboundAddress, "@test.local"))
	require.NotEqual(t, "hunter2", user.PasswordHash)

	// Creating the same email again returns the existing user
	again, err := db.CreateUser("reader@example.com", "other", "user")
	require.NoError(t, err)
	require.Equal(t, user.ID, again.ID)

	_, err = db.CreateUser("x@example.com", "pw", "superuser")
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	db := newTestDB(t)

	user, err := db.CreateUser("reader@example.com", "hunter2", "admin")
	require.NoError(t, err)

	got, err := db.Authenticate("reader@example.com", "hunter2")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = db.Authenticate("reader@example.com", "wrong")
	require.Error(t, err)

	_, err = db.Authenticate("nobody@example.com", "hunter2")
	require.Error(t, err)
}

func TestGetUserByInboundAddress(t *testing.T) {
	db := newTestDB(t)

	user, err := db.CreateUser("reader@example.com", "pw", "user")
	require.NoError(t, err)

	got, err := db.GetUserByInboundAddress(user.InboundAddress)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, user.ID, got.ID)

	missing, err := db.GetUserByInboundAddress("nope@test.local")
	require.NoError(t, err)
	require.Nil(t, missing)
}
