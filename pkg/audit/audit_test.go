package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordRun_AssignsIDAndTimestamp(t *testing.T) {
	s := openTestSink(t)

	require.NoError(t, s.RecordRun(RunRecord{
		AdminEmail:         "admin@example.com",
		UsersGroupsAdded:   3,
		UsersGroupsRemoved: 1,
		MembershipsChanged: 4,
		Comment:            "first run",
	}))

	records, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Created.IsZero())
	assert.Equal(t, "admin@example.com", rec.AdminEmail)
	assert.Equal(t, 3, rec.UsersGroupsAdded)
	assert.Equal(t, 1, rec.UsersGroupsRemoved)
	assert.Equal(t, 4, rec.MembershipsChanged)
	assert.Equal(t, "first run", rec.Comment)
}

func TestRecent_NewestFirstAndLimited(t *testing.T) {
	s := openTestSink(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordRun(RunRecord{
			Created:    base.Add(time.Duration(i) * time.Hour),
			AdminEmail: "admin@example.com",
			Comment:    []string{"oldest", "middle", "newest"}[i],
		}))
	}

	records, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "newest", records[0].Comment)
	assert.Equal(t, "middle", records[1].Comment)
}
