package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"workshop/internal/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T, store string) *DB {
	t.Helper()
	database, err := Open(MemoryConfig(store))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOpenMigratesBothStores(t *testing.T) {
	ctx := context.Background()
	for _, store := range []string{StoreIncidents, StoreHeartbeat} {
		t.Run(store, func(t *testing.T) {
			database := openMemory(t, store)
			require.NoError(t, database.HealthCheck(ctx))

			info, err := database.GetCurrentVersion(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint(1), info.Version)
			assert.False(t, info.Dirty)
			assert.Equal(t, store, info.Store)
		})
	}
}

func TestOpenFileStoreTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "incidents.db")

	first, err := Open(DefaultConfig(StoreIncidents, path))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(DefaultConfig(StoreIncidents, path))
	require.NoError(t, err)
	defer second.Close()
	assert.FileExists(t, path)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(&Config{DSN: ":memory:"})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))
}

func createIncident(t *testing.T, repo *IncidentRepository, serviceID string, tier int, at time.Time) *Incident {
	t.Helper()
	ctx := context.Background()
	var inc *Incident
	err := repo.DB().Transaction(ctx, func(tx *sqlx.Tx) error {
		seq, err := repo.NextSeq(ctx, tx)
		if err != nil {
			return err
		}
		inc = &Incident{
			ID:        uuid.NewString(),
			Seq:       seq,
			ServiceID: serviceID,
			Tier:      tier,
			OpenedAt:  at,
			UpdatedAt: at,
		}
		return repo.Create(ctx, tx, inc)
	})
	require.NoError(t, err)
	return inc
}

func TestIncidentRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewIncidentRepository(openMemory(t, StoreIncidents))
	now := time.Now().UTC()

	inc := createIncident(t, repo, "inspector", 1, now)
	assert.Equal(t, int64(1), inc.Seq)

	open, err := repo.OpenForService(ctx, repo.DB(), "inspector")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, inc.ID, open.ID)

	err = repo.DB().Transaction(ctx, func(tx *sqlx.Tx) error {
		return repo.UpdateTier(ctx, tx, inc.ID, 2, now.Add(time.Second))
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, repo.DB(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Tier)
	assert.False(t, got.ResolvedAt.Valid)

	var resolved bool
	err = repo.DB().Transaction(ctx, func(tx *sqlx.Tx) error {
		var err error
		resolved, err = repo.Resolve(ctx, tx, inc.ID, now.Add(2*time.Second))
		return err
	})
	require.NoError(t, err)
	assert.True(t, resolved)

	open, err = repo.OpenForService(ctx, repo.DB(), "inspector")
	require.NoError(t, err)
	assert.Nil(t, open)

	second := createIncident(t, repo, "inspector", 1, now.Add(3*time.Second))
	assert.Equal(t, int64(2), second.Seq)
}

func TestIncidentRepositoryOneOpenPerService(t *testing.T) {
	ctx := context.Background()
	repo := NewIncidentRepository(openMemory(t, StoreIncidents))
	createIncident(t, repo, "inspector", 1, time.Now().UTC())

	err := repo.DB().Transaction(ctx, func(tx *sqlx.Tx) error {
		return repo.Create(ctx, tx, &Incident{
			ID: uuid.NewString(), Seq: 99, ServiceID: "inspector", Tier: 1,
			OpenedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		})
	})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrDatabaseQuery))
}

func TestIncidentRepositoryGetUnknown(t *testing.T) {
	repo := NewIncidentRepository(openMemory(t, StoreIncidents))
	_, err := repo.Get(context.Background(), repo.DB(), "INC-9999")
	assert.True(t, errors.HasCode(err, errors.ErrUnknownIncident))
}

func TestIncidentRepositoryListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewIncidentRepository(openMemory(t, StoreIncidents))
	base := time.Now().UTC()

	a := createIncident(t, repo, "inspector", 1, base)
	createIncident(t, repo, "elaine", 2, base.Add(time.Second))
	err := repo.DB().Transaction(ctx, func(tx *sqlx.Tx) error {
		_, err := repo.Resolve(ctx, tx, a.ID, base.Add(2*time.Second))
		return err
	})
	require.NoError(t, err)
	createIncident(t, repo, "inspector", 3, base.Add(3*time.Second))

	all, err := repo.List(ctx, IncidentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].Seq, all[1].Seq, all[2].Seq})

	yes, no := true, false
	open, err := repo.List(ctx, IncidentFilter{Open: &yes})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	closed, err := repo.List(ctx, IncidentFilter{Open: &no})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, a.ID, closed[0].ID)

	inspector, err := repo.List(ctx, IncidentFilter{ServiceID: "inspector", Limit: 1})
	require.NoError(t, err)
	require.Len(t, inspector, 1)
	assert.Equal(t, a.ID, inspector[0].ID)

	n, err := repo.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIncidentRepositoryAnnotations(t *testing.T) {
	ctx := context.Background()
	repo := NewIncidentRepository(openMemory(t, StoreIncidents))
	now := time.Now().UTC()
	inc := createIncident(t, repo, "inspector", 1, now)

	for i, text := range []string{"restart issued", "restart failed", "operator looking"} {
		err := repo.DB().Transaction(ctx, func(tx *sqlx.Tx) error {
			return repo.AddAnnotation(ctx, tx, &Annotation{
				ID:         uuid.NewString(),
				IncidentID: inc.ID,
				Author:     "self-healer",
				Text:       text,
				CreatedAt:  now.Add(time.Duration(i) * time.Millisecond),
			})
		})
		require.NoError(t, err)
	}

	byIncident, err := repo.Annotations(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, byIncident[inc.ID], 3)
	assert.Equal(t, "restart issued", byIncident[inc.ID][0].Text)
	assert.Equal(t, "operator looking", byIncident[inc.ID][2].Text)
}

func TestHeartbeatRepositoryUpsertKeepsSlotsBounded(t *testing.T) {
	ctx := context.Background()
	repo := NewHeartbeatRepository(openMemory(t, StoreHeartbeat))
	const capacity = 4

	var batch []HeartbeatSample
	for seq := int64(0); seq < 10; seq++ {
		batch = append(batch, HeartbeatSample{
			ServiceID: "elaine",
			Slot:      int(seq % capacity),
			Seq:       seq,
			Timestamp: seq * int64(time.Second),
			Success:   seq%2 == 0,
			Status:    "healthy",
			LatencyUS: 1500,
		})
	}
	require.NoError(t, repo.SaveBatch(ctx, batch))

	n, err := repo.Count(ctx, "elaine")
	require.NoError(t, err)
	assert.Equal(t, capacity, n)

	samples, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, samples, capacity)
	assert.Equal(t, int64(6), samples[0].Seq)
	assert.Equal(t, int64(9), samples[3].Seq)
	assert.True(t, samples[0].Success)
	assert.False(t, samples[3].Success)

	pruned, err := repo.PruneSlots(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)
}
