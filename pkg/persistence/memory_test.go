package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/agentic-fabric/pkg/filter"
	"github.com/cuemby/agentic-fabric/pkg/storage"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

func mustAllowlist(t *testing.T, read, write []string) types.Allowlist {
	t.Helper()
	a := types.NewAllowlist(read, write)
	require.NoError(t, a.Validate())
	return a
}

func TestInMemory_WriteAssignsID(t *testing.T) {
	m := NewInMemory()
	row, err := m.Write(context.Background(), "leads", map[string]any{"email": "a@x.io"})
	require.NoError(t, err)
	assert.Equal(t, "1", row["id"])

	row2, err := m.Write(context.Background(), "leads", map[string]any{"email": "b@x.io"})
	require.NoError(t, err)
	assert.Equal(t, "2", row2["id"])
}

func TestInMemory_WritePreservesExplicitID(t *testing.T) {
	m := NewInMemory()
	row, err := m.Write(context.Background(), "leads", map[string]any{"id": "custom-1", "email": "a@x.io"})
	require.NoError(t, err)
	assert.Equal(t, "custom-1", row["id"])
}

func TestInMemory_Upsert_MergesOnConflictKey(t *testing.T) {
	m := NewInMemory()
	_, err := m.Write(context.Background(), "leads", map[string]any{"email": "a@x.io", "status": "new"})
	require.NoError(t, err)

	merged, err := m.Upsert(context.Background(), "leads", map[string]any{"email": "a@x.io", "status": "won"}, []string{"email"})
	require.NoError(t, err)
	assert.Equal(t, "won", merged["status"])

	rows, err := m.Query(context.Background(), "leads", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestInMemory_Upsert_InsertsWhenNoMatch(t *testing.T) {
	m := NewInMemory()
	_, err := m.Upsert(context.Background(), "leads", map[string]any{"email": "a@x.io"}, []string{"email"})
	require.NoError(t, err)

	rows, err := m.Query(context.Background(), "leads", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func seedLeads(t *testing.T, m *InMemory) {
	t.Helper()
	for _, row := range []map[string]any{
		{"email": "a@acme.io", "company": "Acme", "status": "new", "score": 10},
		{"email": "b@acme.io", "company": "Acme", "status": "won", "score": 80},
		{"email": "c@globex.io", "company": "Globex", "status": "new", "score": 40},
	} {
		_, err := m.Write(context.Background(), "leads", row)
		require.NoError(t, err)
	}
}

func TestInMemory_Query_FiltersAndPagination(t *testing.T) {
	m := NewInMemory()
	seedLeads(t, m)

	rows, err := m.Query(context.Background(), "leads", QueryOptions{
		Filters: filter.Set{filter.Eq("status", "new")},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = m.Query(context.Background(), "leads", QueryOptions{
		Filters: filter.Set{filter.Ilike("company", "%acme%")},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = m.Query(context.Background(), "leads", QueryOptions{
		Filters: filter.Set{filter.Range("score", filter.RangeGTE, 40)},
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = m.Query(context.Background(), "leads", QueryOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestInMemory_Read_UnknownReturnsNilNoError(t *testing.T) {
	m := NewInMemory()
	row, err := m.Read(context.Background(), "leads", "missing", "")
	assert.NoError(t, err)
	assert.Nil(t, row)
}

func TestDurableInMemory_HydratesFromStoreAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	m, err := NewDurableInMemory(store, []string{"leads"})
	require.NoError(t, err)

	_, err = m.Write(context.Background(), "leads", map[string]any{"email": "a@x.io"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	m2, err := NewDurableInMemory(reopened, []string{"leads"})
	require.NoError(t, err)

	rows, err := m2.Query(context.Background(), "leads", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a@x.io", rows[0]["email"])

	// Id assignment resumes past the hydrated rows instead of colliding.
	row, err := m2.Write(context.Background(), "leads", map[string]any{"email": "b@x.io"})
	require.NoError(t, err)
	assert.Equal(t, "2", row["id"])
}

func TestService_AllowlistEnforcement(t *testing.T) {
	m := NewInMemory()
	allow := mustAllowlist(t, []string{"leads"}, []string{"leads"})
	svc := NewService(m, allow)

	_, err := svc.Write(context.Background(), "secrets", map[string]any{"k": "v"})
	assert.Error(t, err)

	_, err = svc.Read(context.Background(), "secrets", "1", "")
	assert.Error(t, err)

	_, err = svc.Write(context.Background(), "leads", map[string]any{"email": "a@x.io"})
	assert.NoError(t, err)
}

func TestService_StripsUnsetFields(t *testing.T) {
	m := NewInMemory()
	allow := mustAllowlist(t, []string{"leads"}, []string{"leads"})
	svc := NewService(m, allow)

	row, err := svc.Write(context.Background(), "leads", map[string]any{"email": "a@x.io", "notes": Unset})
	require.NoError(t, err)
	_, hasNotes := row["notes"]
	assert.False(t, hasNotes)
}

func TestReadOnlyFacade_RejectsWrites(t *testing.T) {
	m := NewInMemory()
	allow := mustAllowlist(t, []string{"leads"}, nil)
	svc := NewService(m, allow)
	facade := NewReadOnlyFacade(svc)

	_, err := facade.Write(context.Background(), "leads", map[string]any{"email": "a@x.io"})
	assert.Error(t, err)

	_, err = facade.BatchWrite(context.Background(), "leads", nil)
	assert.Error(t, err)

	_, err = facade.Upsert(context.Background(), "leads", map[string]any{"email": "a@x.io"}, nil)
	assert.Error(t, err)
}

func TestReadOnlyFacade_PassesThroughReads(t *testing.T) {
	m := NewInMemory()
	seedLeads(t, m)
	allow := mustAllowlist(t, []string{"leads"}, nil)
	svc := NewService(m, allow)
	facade := NewReadOnlyFacade(svc)

	rows, err := facade.Query(context.Background(), "leads", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestNewReadOnlyFacade_PanicsOnWritableService(t *testing.T) {
	m := NewInMemory()
	allow := mustAllowlist(t, []string{"leads"}, []string{"leads"})
	svc := NewService(m, allow)

	assert.Panics(t, func() {
		NewReadOnlyFacade(svc)
	})
}
