package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bitechdev/tagstream/pkg/config"
	"github.com/bitechdev/tagstream/pkg/logger"
	"github.com/bitechdev/tagstream/pkg/security"
	"github.com/bitechdev/tagstream/pkg/tracing"
)

// ErrCardNotFound is returned when a card does not exist or is inactive
var ErrCardNotFound = errors.New("card not found")

// PermissionViewAnyCard lets a user open cards owned by others
const PermissionViewAnyCard = "view_any_user_cards"

const DefaultHistoryLimit = 1000

// Tag is a time-series source attached to a card
type Tag struct {
	ID   int64
	Name string
}

// Card is a dashboard card and the tags it plots
type Card struct {
	ID        int64
	OwnerID   int64
	StartTime time.Time
	EndTime   time.Time
	Tags      []Tag
}

// TagIDs returns the card's tag ids in display order
func (c *Card) TagIDs() []int64 {
	ids := make([]int64, len(c.Tags))
	for i, t := range c.Tags {
		ids[i] = t.ID
	}
	return ids
}

// HistoryPoint is one stored sample
type HistoryPoint struct {
	TagID     int64     `bun:"tag_id" json:"tag_id"`
	TagName   string    `bun:"tag_name" json:"tag_name"`
	Value     string    `bun:"value" json:"value"`
	Timestamp time.Time `bun:"timestamp" json:"timestamp"`
}

// cardTagRow is one row of a card joined to one of its tags
type cardTagRow struct {
	CardID    int64     `bun:"card_id"`
	OwnerID   int64     `bun:"owner_id"`
	StartTime time.Time `bun:"start_time"`
	EndTime   time.Time `bun:"end_time"`
	TagID     int64     `bun:"tag_id"`
	TagName   string    `bun:"tag_name"`
}

const (
	queryActiveCardsForUser = `
SELECT cd.id AS card_id, cd.user_id AS owner_id, cd.start_time, cd.end_time,
       t.id AS tag_id, t.name AS tag_name
FROM card_data cd
JOIN card_data_tags cdt ON cd.id = cdt.card_data_id
JOIN tag t ON cdt.tag_id = t.id
WHERE cd.user_id = ? AND cd.is_active = true
ORDER BY cd.id`

	queryCardWithTags = `
SELECT cd.id AS card_id, cd.user_id AS owner_id, cd.start_time, cd.end_time,
       t.id AS tag_id, t.name AS tag_name
FROM card_data cd
JOIN card_data_tags cdt ON cd.id = cdt.card_data_id
JOIN tag t ON cdt.tag_id = t.id
WHERE cd.id = ? AND cd.is_active = true`

	queryIsCardOwner = `
SELECT EXISTS (SELECT 1 FROM card_data WHERE id = ? AND user_id = ?)`

	queryHasPermission = `
SELECT EXISTS (
  SELECT 1 FROM permission p
  JOIN role_permission rp ON p.id = rp.permission_id
  JOIN role r ON rp.role_id = r.id
  JOIN "user" u ON u.role_id = r.id
  WHERE u.id = ? AND p.name = ?)`

	queryHistoricalTagData = `
SELECT t.id AS tag_id, t.name AS tag_name, COALESCE(ts.value::text, '') AS value, ts.timestamp
FROM time_series ts
JOIN tag t ON ts.tag_id = t.id
WHERE ts.tag_id = ANY(?)
  AND ts.timestamp BETWEEN ? AND ?
ORDER BY ts.timestamp DESC
LIMIT ?`
)

// Store answers card, permission and history lookups with raw SQL through bun
type Store struct {
	db           *bun.DB
	historyLimit int
}

// Open connects to Postgres with the pgx driver and verifies the connection
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is required")
	}

	sqldb, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqldb.PingContext(pingCtx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("[Store] Connected to Postgres")
	return New(bun.NewDB(sqldb, pgdialect.New()), cfg.HistoryLimit), nil
}

// New wraps an existing bun handle. historyLimit <= 0 uses DefaultHistoryLimit.
func New(db *bun.DB, historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Store{db: db, historyLimit: historyLimit}
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ActiveCardsForUser returns the user's active cards ordered by id
func (s *Store) ActiveCardsForUser(ctx context.Context, userID int) ([]Card, error) {
	ctx, span := tracing.StartSpan(ctx, "store.ActiveCardsForUser", attribute.Int("user.id", userID))
	defer span.End()

	var rows []cardTagRow
	if err := s.db.NewRaw(queryActiveCardsForUser, userID).Scan(ctx, &rows); err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to load active cards for user %d: %w", userID, err)
	}
	return groupCards(rows), nil
}

// CardWithTags loads one active card. Returns ErrCardNotFound when the
// card is missing, inactive or has no tags.
func (s *Store) CardWithTags(ctx context.Context, cardID int64) (*Card, error) {
	ctx, span := tracing.StartSpan(ctx, "store.CardWithTags", attribute.Int64("card.id", cardID))
	defer span.End()

	var rows []cardTagRow
	if err := s.db.NewRaw(queryCardWithTags, cardID).Scan(ctx, &rows); err != nil && !errors.Is(err, sql.ErrNoRows) {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to load card %d: %w", cardID, err)
	}

	cards := groupCards(rows)
	if len(cards) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrCardNotFound, cardID)
	}
	return &cards[0], nil
}

// CanAccessCard allows admins, the card owner and holders of
// PermissionViewAnyCard.
func (s *Store) CanAccessCard(ctx context.Context, user *security.UserContext, cardID int64) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.IsAdmin() {
		return true, nil
	}

	ctx, span := tracing.StartSpan(ctx, "store.CanAccessCard",
		attribute.Int("user.id", user.UserID),
		attribute.Int64("card.id", cardID))
	defer span.End()

	var owner bool
	if err := s.db.NewRaw(queryIsCardOwner, cardID, user.UserID).Scan(ctx, &owner); err != nil {
		tracing.RecordError(ctx, err)
		return false, fmt.Errorf("failed to check owner of card %d: %w", cardID, err)
	}
	if owner {
		return true, nil
	}

	return s.HasPermission(ctx, user.UserID, PermissionViewAnyCard)
}

// HasPermission reports whether the user's role grants permission
func (s *Store) HasPermission(ctx context.Context, userID int, permission string) (bool, error) {
	if userID == 0 {
		return false, nil
	}

	var ok bool
	if err := s.db.NewRaw(queryHasPermission, userID, permission).Scan(ctx, &ok); err != nil {
		return false, fmt.Errorf("failed to check permission %s for user %d: %w", permission, userID, err)
	}
	if !ok {
		logger.Debug("[Store] User %d lacks permission %s", userID, permission)
	}
	return ok, nil
}

// HistoricalTagData returns samples for tagIDs inside [start, end], newest first
func (s *Store) HistoricalTagData(ctx context.Context, tagIDs []int64, start, end time.Time) ([]HistoryPoint, error) {
	if len(tagIDs) == 0 {
		return []HistoryPoint{}, nil
	}

	ctx, span := tracing.StartSpan(ctx, "store.HistoricalTagData", attribute.Int("tags", len(tagIDs)))
	defer span.End()

	points := make([]HistoryPoint, 0)
	err := s.db.NewRaw(queryHistoricalTagData, pgdialect.Array(tagIDs), start, end, s.historyLimit).Scan(ctx, &points)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to load history for %d tags: %w", len(tagIDs), err)
	}
	return points, nil
}

// groupCards folds joined rows into cards, keeping first-seen order
func groupCards(rows []cardTagRow) []Card {
	cards := make([]Card, 0)
	index := make(map[int64]int)
	for _, r := range rows {
		i, ok := index[r.CardID]
		if !ok {
			i = len(cards)
			index[r.CardID] = i
			cards = append(cards, Card{
				ID:        r.CardID,
				OwnerID:   r.OwnerID,
				StartTime: r.StartTime,
				EndTime:   r.EndTime,
			})
		}
		cards[i].Tags = append(cards[i].Tags, Tag{ID: r.TagID, Name: r.TagName})
	}
	return cards
}
