package pipeline

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDatabaseRoundTripsThroughPersist(t *testing.T) {
	db := NewDatabase("/workspace")
	m := db.OnFileDiscovered("main.tsn", 128, 1000, false)
	m.CachedOn = 1200
	db.MapSourcePath(m.ModuleID, "main.tsn")

	var buf bytes.Buffer
	require.NoError(t, db.Persist(&buf))

	restored, err := LoadDatabase(&buf)
	require.NoError(t, err)
	require.NotNil(t, restored)
	require.Equal(t, "/workspace", restored.WorkspaceRoot)

	got, ok := restored.Scripts["main.tsn"]
	require.True(t, ok)
	require.Equal(t, m.ModuleID, got.ModuleID)
	require.EqualValues(t, 128, got.Size)
	require.EqualValues(t, 1000, got.ModifiedOn)
	require.EqualValues(t, 1200, got.CachedOn)

	require.Equal(t, "main.tsn", restored.SourcePath(m.ModuleID))
}

func TestScriptMetadataIsStale(t *testing.T) {
	cases := []struct {
		name  string
		meta  ScriptMetadata
		stale bool
	}{
		{"never cached", ScriptMetadata{ModifiedOn: 10, CachedOn: 0}, true},
		{"modified after cache", ScriptMetadata{ModifiedOn: 20, CachedOn: 10}, true},
		{"cache still fresh", ScriptMetadata{ModifiedOn: 10, CachedOn: 20}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.stale, tc.meta.IsStale())
		})
	}
}

func TestLoadDatabaseRejectsWrongMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	db, err := LoadDatabase(buf)
	require.NoError(t, err)
	require.Nil(t, db)
}

func TestOnFileChangedUpdatesMetadata(t *testing.T) {
	db := NewDatabase("/workspace")
	m := db.OnFileDiscovered("a.tsn", 10, 100, false)
	db.OnFileChanged(m, 20, 200)
	require.EqualValues(t, 20, m.Size)
	require.EqualValues(t, 200, m.ModifiedOn)
}
