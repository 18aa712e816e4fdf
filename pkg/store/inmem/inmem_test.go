package inmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LambdaTest/janitor/pkg/core"
	errs "github.com/LambdaTest/janitor/pkg/errors"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResource(id string, expiration time.Time) *core.TrackedResource {
	return &core.TrackedResource{
		ID:         id,
		Identity:   core.KubernetesNamespace{Namespace: "ns-" + id},
		State:      core.ResourceReady,
		Creation:   expiration.Add(-time.Hour),
		Expiration: expiration,
	}
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	store := NewTrackedResourceStore(db)
	now := time.Now()
	require.NoError(t, store.Create(ctx, newResource("a", now)))

	boom := errors.New("boom")
	err := db.ExecuteTransactionWithRetry(ctx, 1, 0, 0, "", func(tx *sqlx.Tx) error {
		require.NoError(t, store.UpdateStateInTx(ctx, tx, "a", core.ResourceDone))
		require.NoError(t, store.CreateInTx(ctx, tx, newResource("b", now)))
		return boom
	})
	assert.Equal(t, boom, err)

	a, err := store.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, core.ResourceReady, a.State)
	_, err = store.FindByID(ctx, "b")
	assert.Equal(t, errs.ErrRowsNotFound, err)
}

func TestClaimOrder(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	store := NewTrackedResourceStore(db)
	flights := NewCleanupFlightStore(db)
	now := time.Now()
	require.NoError(t, store.Create(ctx, newResource("late", now.Add(-time.Minute))))
	require.NoError(t, store.Create(ctx, newResource("early", now.Add(-time.Hour))))
	require.NoError(t, store.Create(ctx, newResource("future", now.Add(time.Hour))))
	assert.Equal(t, errs.ErrConflict, store.Create(ctx, newResource("early", now)))

	first, err := store.ClaimForCleaning(ctx, now, "f1")
	require.NoError(t, err)
	assert.Equal(t, "early", first.ID)
	second, err := store.ClaimForCleaning(ctx, now, "f2")
	require.NoError(t, err)
	assert.Equal(t, "late", second.ID)
	none, err := store.ClaimForCleaning(ctx, now, "f3")
	require.NoError(t, err)
	assert.Nil(t, none)

	state, err := flights.FindState(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, core.FlightInitiating, state)

	pairs, err := store.FindByFlightState(ctx, core.FlightInitiating, "", 1)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "f1", pairs[0].Flight.FlightID)
	assert.Equal(t, "early", pairs[0].Resource.ID)

	pairs, err = store.FindByFlightState(ctx, core.FlightInitiating, "f1", 10)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "f2", pairs[0].Flight.FlightID)
	assert.Equal(t, "late", pairs[0].Resource.ID)
}

func TestFindPaging(t *testing.T) {
	ctx := context.Background()
	store := NewTrackedResourceStore(NewDB())
	now := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, newResource(id, now.Add(time.Duration(i)*time.Minute))))
	}
	page, err := store.Find(ctx, &core.ResourceFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	page, err = store.Find(ctx, &core.ResourceFilter{Offset: 5, Limit: 1})
	require.NoError(t, err)
	assert.Empty(t, page)
}
