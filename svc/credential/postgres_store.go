package credential

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/keytier/pkg/pg"
	"github.com/dmitrymomot/keytier/svc/plan"
)

const table = "api_credentials"

const returning = "RETURNING id, user_id, tier, api_key, is_active, created_at, updated_at"

var columns = []string{"id", "user_id", "tier", "api_key", "is_active", "created_at", "updated_at"}

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps credentials in the api_credentials table.
type PostgresStore struct {
	db  DB
	sql sq.StatementBuilderType
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		sql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *PostgresStore) Upsert(ctx context.Context, userID string, tier plan.Tier, apiKey string) (*Credential, error) {
	query, args, err := s.sql.Insert(table).
		Columns("id", "user_id", "tier", "api_key", "is_active").
		Values(uuid.New(), userID, string(tier), apiKey, true).
		Suffix("ON CONFLICT (user_id, tier) DO UPDATE SET api_key = EXCLUDED.api_key, is_active = TRUE, updated_at = now() " + returning).
		ToSql()
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return s.one(ctx, query, args)
}

func (s *PostgresStore) Rotate(ctx context.Context, userID string, tier plan.Tier, apiKey string) (*Credential, error) {
	query, args, err := s.sql.Update(table).
		Set("api_key", apiKey).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"user_id": userID, "tier": string(tier)}).
		Suffix(returning).
		ToSql()
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return s.one(ctx, query, args)
}

func (s *PostgresStore) RotateByID(ctx context.Context, userID string, id uuid.UUID, apiKey string) (*Credential, error) {
	query, args, err := s.sql.Update(table).
		Set("api_key", apiKey).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id.String(), "user_id": userID}).
		Suffix(returning).
		ToSql()
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return s.one(ctx, query, args)
}

func (s *PostgresStore) SetActive(ctx context.Context, userID string, id uuid.UUID, active bool) (*Credential, error) {
	query, args, err := s.sql.Update(table).
		Set("is_active", active).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id.String(), "user_id": userID}).
		Suffix(returning).
		ToSql()
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return s.one(ctx, query, args)
}

func (s *PostgresStore) SetActiveByTier(ctx context.Context, userID string, tier plan.Tier, active bool) (bool, error) {
	query, args, err := s.sql.Update(table).
		Set("is_active", active).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"user_id": userID, "tier": string(tier)}).
		ToSql()
	if err != nil {
		return false, errors.Join(ErrStore, err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, errors.Join(ErrStore, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeactivateTiers(ctx context.Context, userID string, tiers []plan.Tier) (int64, error) {
	if len(tiers) == 0 {
		return 0, nil
	}
	query, args, err := s.sql.Update(table).
		Set("is_active", false).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"user_id": userID, "tier": tierStrings(tiers), "is_active": true}).
		ToSql()
	if err != nil {
		return 0, errors.Join(ErrStore, err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, errors.Join(ErrStore, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Credential, error) {
	query, args, err := s.sql.Select(columns...).
		From(table).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, errors.Join(ErrStore, err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return out, nil
}

func (s *PostgresStore) GetByKey(ctx context.Context, apiKey string) (*Credential, error) {
	query, args, err := s.sql.Select(columns...).
		From(table).
		Where(sq.Eq{"api_key": apiKey}).
		ToSql()
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return s.one(ctx, query, args)
}

func (s *PostgresStore) ListUserIDs(ctx context.Context, tiers []plan.Tier) ([]string, error) {
	query, args, err := s.sql.Select("DISTINCT user_id").
		From(table).
		Where(sq.Eq{"tier": tierStrings(tiers), "is_active": true}).
		OrderBy("user_id").
		ToSql()
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return ids, nil
}

func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	query, args, err := s.sql.Delete(table).Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return 0, errors.Join(ErrStore, err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, errors.Join(ErrStore, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) one(ctx context.Context, query string, args []any) (*Credential, error) {
	c, err := scan(s.db.QueryRow(ctx, query, args...))
	switch {
	case err == nil:
		return c, nil
	case pg.IsNotFoundError(err):
		return nil, ErrNotFound
	case pg.IsDuplicateKeyError(err):
		return nil, errors.Join(ErrKeyCollision, err)
	default:
		return nil, errors.Join(ErrStore, err)
	}
}

func scan(row pgx.Row) (*Credential, error) {
	var (
		c    Credential
		tier string
	)
	if err := row.Scan(&c.ID, &c.UserID, &tier, &c.APIKey, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	t, err := plan.Parse(tier)
	if err != nil {
		return nil, fmt.Errorf("unexpected tier %q in %s: %w", tier, table, err)
	}
	c.Tier = t
	return &c, nil
}

func tierStrings(tiers []plan.Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}
