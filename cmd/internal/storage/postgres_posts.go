package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"twootr/cmd/internal/database"
	"twootr/cmd/internal/twootr"
)

// PostgresPostLog implements twootr.PostLog over the posts table.
//
// The core serialises appends per author, so (author_id, seq) is unique by
// construction; a conflict means two processes share one database, which
// is unsupported and reported as an error.
type PostgresPostLog struct {
	pool   *pgxpool.Pool
	schema string
}

var _ twootr.PostLog = (*PostgresPostLog)(nil)

// NewPostgresPostLog constructs a PostgresPostLog.
func NewPostgresPostLog(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresPostLog, error) {
	s, err := applyPostgresOptions(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresPostLog{pool: pool, schema: s.schema}, nil
}

func (l *PostgresPostLog) posts() string { return database.Ident(l.schema, "posts") }

func (l *PostgresPostLog) Append(ctx context.Context, p twootr.Post) error {
	const op = "storage.PostgresPostLog.Append"

	_, err := l.pool.Exec(ctx,
		`INSERT INTO `+l.posts()+` (id, author_id, seq, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Author, p.Seq, p.Text, p.CreatedAt.UTC(),
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%s: duplicate seq %d for %q: %w", op, p.Seq, p.Author, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (l *PostgresPostLog) LastSeq(ctx context.Context, author string) (int64, error) {
	const op = "storage.PostgresPostLog.LastSeq"

	var seq int64
	if err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM `+l.posts()+` WHERE author_id = $1`,
		author,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return seq, nil
}

// History pages an author's posts by seq ASC, fetching one extra row to
// compute HasMore.
func (l *PostgresPostLog) History(ctx context.Context, q twootr.HistoryQuery) (twootr.HistoryPage, error) {
	const op = "storage.PostgresPostLog.History"
	if q.Author == "" {
		return twootr.HistoryPage{}, twootr.OpError{Op: op, Kind: twootr.ErrInvalidUserID, Msg: "empty author"}
	}

	limit := q.EffectiveLimit()
	var after int64
	if q.AfterSeq != nil {
		after = *q.AfterSeq
	}

	rows, err := l.pool.Query(ctx,
		`SELECT id, author_id, seq, body, created_at
		   FROM `+l.posts()+`
		  WHERE author_id = $1 AND seq > $2
		  ORDER BY seq ASC
		  LIMIT $3`,
		q.Author, after, limit+1,
	)
	if err != nil {
		return twootr.HistoryPage{}, fmt.Errorf("%s: %w", op, err)
	}

	posts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (twootr.Post, error) {
		var p twootr.Post
		var created time.Time
		if err := row.Scan(&p.ID, &p.Author, &p.Seq, &p.Text, &created); err != nil {
			return twootr.Post{}, err
		}
		p.CreatedAt = created.UTC()
		return p, nil
	})
	if err != nil {
		return twootr.HistoryPage{}, fmt.Errorf("%s: %w", op, err)
	}

	hasMore := len(posts) > limit
	if hasMore {
		posts = posts[:limit]
	}
	return twootr.HistoryPage{Posts: posts, HasMore: hasMore}, nil
}
