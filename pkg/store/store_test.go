package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/bitechdev/tagstream/pkg/cache"
	"github.com/bitechdev/tagstream/pkg/security"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return New(db, 0), mock
}

var (
	t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	t1 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
)

func cardRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"card_id", "owner_id", "start_time", "end_time", "tag_id", "tag_name"})
}

func TestActiveCardsForUser(t *testing.T) {
	s, mock := newMockStore(t)

	rows := cardRows().
		AddRow(int64(1), int64(7), t0, t1, int64(10), "Boiler temp").
		AddRow(int64(1), int64(7), t0, t1, int64(11), "Boiler pressure").
		AddRow(int64(2), int64(7), t0, t1, int64(10), "Boiler temp")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE cd.user_id = 7 AND cd.is_active = true")).WillReturnRows(rows)

	cards, err := s.ActiveCardsForUser(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, cards, 2)

	assert.Equal(t, int64(1), cards[0].ID)
	assert.Equal(t, []int64{10, 11}, cards[0].TagIDs())
	assert.Equal(t, "Boiler pressure", cards[0].Tags[1].Name)
	assert.Equal(t, int64(2), cards[1].ID)
	assert.Equal(t, t0, cards[1].StartTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveCardsForUser_Empty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM card_data cd").WillReturnRows(cardRows())

	cards, err := s.ActiveCardsForUser(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestActiveCardsForUser_Error(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM card_data cd").WillReturnError(errors.New("connection reset"))

	_, err := s.ActiveCardsForUser(context.Background(), 3)
	assert.ErrorContains(t, err, "connection reset")
}

func TestCardWithTags(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE cd.id = 5 AND cd.is_active = true")).
		WillReturnRows(cardRows().AddRow(int64(5), int64(9), t0, t1, int64(10), "Flow"))

	card, err := s.CardWithTags(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(9), card.OwnerID)
	assert.Equal(t, []Tag{{ID: 10, Name: "Flow"}}, card.Tags)
}

func TestCardWithTags_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM card_data cd").WillReturnRows(cardRows())

	_, err := s.CardWithTags(context.Background(), 404)
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestCanAccessCard(t *testing.T) {
	ctx := context.Background()

	t.Run("admin skips the database", func(t *testing.T) {
		s, mock := newMockStore(t)
		ok, err := s.CanAccessCard(ctx, &security.UserContext{UserID: 1, Roles: []string{"admin"}}, 5)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("owner", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = 5 AND user_id = 2")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := s.CanAccessCard(ctx, &security.UserContext{UserID: 2}, 5)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("permission", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("FROM card_data WHERE id").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(regexp.QuoteMeta("p.name = 'view_any_user_cards'")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := s.CanAccessCard(ctx, &security.UserContext{UserID: 3}, 5)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("denied", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("FROM card_data WHERE id").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery("FROM permission p").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		ok, err := s.CanAccessCard(ctx, &security.UserContext{UserID: 3}, 5)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("nil user", func(t *testing.T) {
		s, _ := newMockStore(t)
		ok, err := s.CanAccessCard(ctx, nil, 5)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestHistoricalTagData(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"tag_id", "tag_name", "value", "timestamp"}).
		AddRow(int64(10), "Flow", "12.5", t1).
		AddRow(int64(10), "Flow", "11.0", t0)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ts.tag_id = ANY('{10,11}')")).WillReturnRows(rows)

	points, err := s.HistoricalTagData(context.Background(), []int64{10, 11}, t0, t1)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, HistoryPoint{TagID: 10, TagName: "Flow", Value: "12.5", Timestamp: t1}, points[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoricalTagData_NoTags(t *testing.T) {
	s, mock := newMockStore(t)
	points, err := s.HistoricalTagData(context.Background(), nil, t0, t1)
	require.NoError(t, err)
	assert.Empty(t, points)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type countingHistory struct {
	calls  int
	points []HistoryPoint
	err    error
}

func (c *countingHistory) HistoricalTagData(ctx context.Context, tagIDs []int64, start, end time.Time) ([]HistoryPoint, error) {
	c.calls++
	return c.points, c.err
}

func TestCachedHistory(t *testing.T) {
	ctx := context.Background()
	src := &countingHistory{points: []HistoryPoint{{TagID: 1, TagName: "a", Value: "2", Timestamp: t0}}}
	h := NewCachedHistory(src, cache.NewCache(cache.NewMemoryProvider(nil)), time.Minute)

	first, err := h.HistoricalTagData(ctx, []int64{2, 1}, t0, t1)
	require.NoError(t, err)
	second, err := h.HistoricalTagData(ctx, []int64{1, 2, 2}, t0, t1)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls, "same tag set and window share an entry")
	assert.Equal(t, first, second)

	_, err = h.HistoricalTagData(ctx, []int64{1, 2}, t0, t1.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "a different window misses")
}

func TestCachedHistory_ErrorNotCached(t *testing.T) {
	ctx := context.Background()
	src := &countingHistory{err: errors.New("timeout")}
	h := NewCachedHistory(src, cache.NewCache(cache.NewMemoryProvider(nil)), 0)

	_, err := h.HistoricalTagData(ctx, []int64{1}, t0, t1)
	assert.Error(t, err)
	_, err = h.HistoricalTagData(ctx, []int64{1}, t0, t1)
	assert.Error(t, err)
	assert.Equal(t, 2, src.calls)
}
