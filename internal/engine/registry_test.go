package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rollhost/internal/core/domain"
)

func newTestRecord(t *testing.T, serviceID uint64) *domain.RollupRecord {
	t.Helper()
	owner, err := domain.ParseAddress("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	validator, err := domain.ParseAddress("0x2222222222222222222222222222222222222222")
	require.NoError(t, err)
	poster, err := domain.ParseAddress("0x3333333333333333333333333333333333333333")
	require.NoError(t, err)

	return domain.NewRollupRecord(serviceID, domain.RollupConfig{
		ChainID:           42,
		InitialChainOwner: owner,
		Validators:        []domain.Address{validator},
		BatchPoster:       poster,
		Network:           domain.NetworkArbitrumSepolia,
	})
}

// =============================================================================
// Insert / Get Tests
// =============================================================================

func TestRegistry_InsertAndGet(t *testing.T) {
	r := NewRegistry()
	record := newTestRecord(t, 1)
	require.NoError(t, r.Insert(record))

	got, err := r.Get(record.RollupID)
	require.NoError(t, err)
	assert.Equal(t, record.RollupID, got.RollupID)
	assert.Equal(t, record.VMID, got.VMID)
}

func TestRegistry_InsertDuplicate(t *testing.T) {
	r := NewRegistry()
	record := newTestRecord(t, 1)
	require.NoError(t, r.Insert(record))
	assert.ErrorIs(t, r.Insert(record), ErrDuplicateID)
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_GetReturnsClone(t *testing.T) {
	r := NewRegistry()
	record := newTestRecord(t, 1)
	require.NoError(t, r.Insert(record))

	got, err := r.Get(record.RollupID)
	require.NoError(t, err)
	got.Status = domain.StatusRunning
	got.Config.Validators[0] = domain.Address{}

	fresh, err := r.Get(record.RollupID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreating, fresh.Status, "mutating a snapshot must not affect the registry")
	assert.False(t, fresh.Config.Validators[0].IsZero())
}

// =============================================================================
// Lookup Tests
// =============================================================================

func TestRegistry_FindByServiceID_Newest(t *testing.T) {
	r := NewRegistry()
	older := newTestRecord(t, 5)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := newTestRecord(t, 5)
	require.NoError(t, r.Insert(older))
	require.NoError(t, r.Insert(newer))

	got, err := r.FindByServiceID(5)
	require.NoError(t, err)
	assert.Equal(t, newer.RollupID, got.RollupID)
}

func TestRegistry_FindByVMID(t *testing.T) {
	r := NewRegistry()
	record := newTestRecord(t, 3)
	require.NoError(t, r.Insert(record))

	got, err := r.FindByVMID(record.VMID)
	require.NoError(t, err)
	assert.Equal(t, record.RollupID, got.RollupID)

	_, err = r.FindByVMID("rollup-0-nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Status / Update / Remove Tests
// =============================================================================

func TestRegistry_SetStatus(t *testing.T) {
	r := NewRegistry()
	record := newTestRecord(t, 1)
	require.NoError(t, r.Insert(record))

	require.NoError(t, r.SetStatus(record.RollupID, domain.StatusFailed, "boom"))
	got, err := r.Get(record.RollupID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.FailureReason)

	// Non-failed status clears the reason.
	require.NoError(t, r.SetStatus(record.RollupID, domain.StatusCreated, ""))
	got, err = r.Get(record.RollupID)
	require.NoError(t, err)
	assert.Empty(t, got.FailureReason)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	record := newTestRecord(t, 1)
	require.NoError(t, r.Insert(record))
	require.NoError(t, r.Remove(record.RollupID))
	assert.ErrorIs(t, r.Remove(record.RollupID), ErrNotFound)
	assert.Zero(t, r.Len())
}

func TestRegistry_ListOrdered(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		record := newTestRecord(t, uint64(i))
		record.CreatedAt = time.Now().Add(time.Duration(-3+i) * time.Hour)
		require.NoError(t, r.Insert(record))
	}

	records := r.List()
	require.Len(t, records, 3)
	assert.True(t, records[0].CreatedAt.Before(records[1].CreatedAt))
	assert.True(t, records[1].CreatedAt.Before(records[2].CreatedAt))
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	const n = 50

	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		record := newTestRecord(t, uint64(i))
		ids[i] = record.RollupID
		require.NoError(t, r.Insert(record))
	}

	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			_ = r.SetStatus(id, domain.StatusCreated, "")
		}(ids[i])
		go func(id string) {
			defer wg.Done()
			if _, err := r.Get(id); err != nil {
				t.Errorf("get %s: %v", id, err)
			}
			_ = r.List()
		}(ids[i])
	}
	wg.Wait()

	assert.Equal(t, n, r.Len())
	for i, id := range ids {
		got, err := r.Get(id)
		require.NoError(t, err, fmt.Sprintf("record %d", i))
		assert.Equal(t, domain.StatusCreated, got.Status)
	}
}
