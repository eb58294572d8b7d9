package incident

import (
	"context"
	"sync"
	"testing"
	"time"

	"workshop/internal/errors"
	"workshop/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := NewLogger(testutil.NewIncidentDB(t))
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	l.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return l
}

func TestLogger_OpenCreatesThenUpdates(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	first, err := l.Open(ctx, "inspector", 1)
	require.NoError(t, err)
	assert.Equal(t, "INC-0001", first.ID)
	assert.Equal(t, 1, first.Tier)
	assert.True(t, first.Open())

	second, err := l.Open(ctx, "inspector", 2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Tier)
	assert.True(t, first.OpenedAt.Equal(second.OpenedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	all, err := l.List(ctx, Filter{ServiceID: "inspector"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLogger_IDsIncreaseAcrossEpisodes(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	first, err := l.Open(ctx, "inspector", 1)
	require.NoError(t, err)
	_, err = l.Resolve(ctx, first.ID)
	require.NoError(t, err)

	second, err := l.Open(ctx, "inspector", 1)
	require.NoError(t, err)
	assert.Equal(t, "INC-0002", second.ID)

	other, err := l.Open(ctx, "peterman", 3)
	require.NoError(t, err)
	assert.Equal(t, "INC-0003", other.ID)
}

func TestLogger_AtMostOneOpenPerService(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for tier := 1; tier <= 4; tier++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Open(ctx, "foreperson", tier)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	open, err := l.List(ctx, Filter{Status: "open", ServiceID: "foreperson"})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestLogger_Annotate(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	inc, err := l.Open(ctx, "inspector", 1)
	require.NoError(t, err)

	_, err = l.Annotate(ctx, inc.ID, "self-healer", "restart issued")
	require.NoError(t, err)
	_, err = l.Annotate(ctx, inc.ID, "", "looking into it")
	require.NoError(t, err)

	got, err := l.Get(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, got.Annotations, 2)
	assert.Equal(t, "self-healer", got.Annotations[0].Author)
	assert.Equal(t, "restart issued", got.Annotations[0].Text)
	assert.Equal(t, "operator", got.Annotations[1].Author)
	assert.True(t, got.Annotations[1].CreatedAt.After(got.Annotations[0].CreatedAt))
}

func TestLogger_AnnotateUnknown(t *testing.T) {
	l := newTestLogger(t)

	_, err := l.Annotate(context.Background(), "INC-9999", "me", "hello")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrUnknownIncident))

	_, err = l.Annotate(context.Background(), "INC-9999", "me", "  ")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))
}

func TestLogger_ResolveIsIdempotent(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	var changes []ChangeKind
	l.OnChange(func(c Change) { changes = append(changes, c.Kind) })

	inc, err := l.Open(ctx, "inspector", 2)
	require.NoError(t, err)

	resolved, err := l.Resolve(ctx, inc.ID)
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	assert.False(t, resolved.Open())

	again, err := l.Resolve(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, resolved.ResolvedAt, again.ResolvedAt)

	assert.Equal(t, []ChangeKind{ChangeOpened, ChangeResolved}, changes)

	_, err = l.Resolve(ctx, "INC-4242")
	assert.True(t, errors.HasCode(err, errors.ErrUnknownIncident))
}

func TestLogger_ListFilters(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	a, err := l.Open(ctx, "elaine", 1)
	require.NoError(t, err)
	_, err = l.Open(ctx, "inspector", 1)
	require.NoError(t, err)
	_, err = l.Open(ctx, "peterman", 2)
	require.NoError(t, err)
	_, err = l.Resolve(ctx, a.ID)
	require.NoError(t, err)

	all, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"elaine", "inspector", "peterman"},
		[]string{all[0].ServiceID, all[1].ServiceID, all[2].ServiceID})

	open, err := l.List(ctx, Filter{Status: "open"})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	closed, err := l.List(ctx, Filter{Status: "closed"})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, a.ID, closed[0].ID)

	limited, err := l.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = l.List(ctx, Filter{Status: "sideways"})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))

	n, err := l.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLogger_OpenFor(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	none, err := l.OpenFor(ctx, "inspector")
	require.NoError(t, err)
	assert.Nil(t, none)

	inc, err := l.Open(ctx, "inspector", 3)
	require.NoError(t, err)

	got, err := l.OpenFor(ctx, "inspector")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inc.ID, got.ID)
	assert.Equal(t, 3, got.Tier)
}
