package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitDB_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "katcon.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM tasks").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestTimeFormat_SortsLexically(t *testing.T) {
	early := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	late := early.Add(1500 * time.Millisecond)

	assert.Less(t, formatTime(early), formatTime(late))

	got, err := parseTime(formatTime(late))
	require.NoError(t, err)
	assert.True(t, got.Equal(late))
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{in: "user:a@x.com", want: UserTarget("a@x.com")},
		{in: "team:design", want: TeamTarget("design")},
		{in: " b@x.com ", want: UserTarget("b@x.com")},
		{in: "design", wantErr: true},
		{in: "team:", wantErr: true},
		{in: "group:ops", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseTarget(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, got, mustParse(t, got.String()))
	}
}

func mustParse(t *testing.T, s string) Target {
	t.Helper()
	target, err := ParseTarget(s)
	require.NoError(t, err)
	return target
}

func TestStatusAndPriorityValid(t *testing.T) {
	for _, s := range Statuses {
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("archived").Valid())
	assert.True(t, PriorityHigh.Valid())
	assert.False(t, Priority("whenever").Valid())
}

func TestDirectoryStore_Seed(t *testing.T) {
	db := newTestDB(t)
	dir := NewDirectoryStore(db)
	ctx := context.Background()

	err := dir.Seed(ctx, &DirectorySeed{
		Users: []User{{Email: "a@x.com", DisplayName: "A"}},
		Teams: []Team{{Tag: "design", Name: "Design", Members: []string{"a@x.com", "b@x.com"}}},
	})
	require.NoError(t, err)

	ok, err := dir.UserExists(ctx, "b@x.com")
	require.NoError(t, err)
	assert.True(t, ok, "team members become users")

	members, err := dir.TeamMembers(ctx, "design")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, members)

	// Replacing the member list is live for later reads.
	require.NoError(t, dir.UpsertTeam(ctx, Team{Tag: "design", Members: []string{"b@x.com"}}))
	teams, err := dir.TeamsOf(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, teams)

	members, err = dir.TeamMembers(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, writeFile(path, `
users:
  - email: a@x.com
    displayName: Ada
teams:
  - tag: design
    name: Design
    members: [a@x.com, b@x.com]
`))

	seed, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, seed.Users, 1)
	assert.Equal(t, "a@x.com", seed.Users[0].Email)
	require.Len(t, seed.Teams, 1)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, seed.Teams[0].Members)

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
