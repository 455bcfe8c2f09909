package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"minitwitter/internal/domain"
	"minitwitter/internal/infra/metrics"
)

// Postgres реализует хранилище постов и пользователей на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.PostStore = (*Postgres)(nil)
	_ domain.UserRepo  = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const foreignKeyViolation = "23503"

const postColumns = `p.id, p.text, p.user_id, u.username, p.sentiment, p.correction, p.created_at`

func scanPost(row pgx.Row) (domain.Post, error) {
	var (
		post       domain.Post
		sentiment  sql.NullString
		correction sql.NullString
	)
	if err := row.Scan(&post.ID, &post.Text, &post.UserID, &post.Username, &sentiment, &correction, &post.CreatedAt); err != nil {
		return domain.Post{}, err
	}
	if sentiment.Valid {
		if parsed, ok := domain.ParseSentiment(sentiment.String); ok {
			post.Sentiment = parsed
		}
	}
	if correction.Valid {
		value := correction.String
		post.Correction = &value
	}
	return post, nil
}

// CreatePost сохраняет пост. Поля модерации остаются пустыми.
func (p *Postgres) CreatePost(ctx context.Context, userID int64, text string) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	post, err := scanPost(p.pool.QueryRow(ctx, `
WITH p AS (
	INSERT INTO posts (text, user_id) VALUES ($1, $2)
	RETURNING id, text, user_id, sentiment, correction, created_at
)
SELECT `+postColumns+`
FROM p JOIN users u ON u.id = p.user_id
`, text, userID))
	metrics.ObserveNetworkRequest("postgres", "posts_insert", "posts", start, err)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return domain.Post{}, domain.ErrUserNotFound
	}
	return post, err
}

// UpdatePostText меняет только текст поста, принадлежащего пользователю.
func (p *Postgres) UpdatePostText(ctx context.Context, userID, postID int64, text string) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	post, err := scanPost(p.pool.QueryRow(ctx, `
WITH p AS (
	UPDATE posts SET text = $3
	WHERE id = $1 AND user_id = $2
	RETURNING id, text, user_id, sentiment, correction, created_at
)
SELECT `+postColumns+`
FROM p JOIN users u ON u.id = p.user_id
`, postID, userID, text))
	metrics.ObserveNetworkRequest("postgres", "posts_update_text", "posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Post{}, domain.ErrPostNotFound
	}
	return post, err
}

// DeletePost удаляет пост владельца.
func (p *Postgres) DeletePost(ctx context.Context, userID, postID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1 AND user_id = $2`, postID, userID)
	metrics.ObserveNetworkRequest("postgres", "posts_delete", "posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// GetPost возвращает пост по идентификатору.
func (p *Postgres) GetPost(ctx context.Context, postID int64) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	post, err := scanPost(p.pool.QueryRow(ctx, `
SELECT `+postColumns+`
FROM posts p JOIN users u ON u.id = p.user_id
WHERE p.id = $1
`, postID))
	metrics.ObserveNetworkRequest("postgres", "posts_get", "posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Post{}, domain.ErrPostNotFound
	}
	return post, err
}

// ListFeed возвращает всю ленту: новые первыми, при равном времени больший id первым.
func (p *Postgres) ListFeed(ctx context.Context) ([]domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+postColumns+`
FROM posts p JOIN users u ON u.id = p.user_id
ORDER BY p.created_at DESC, p.id DESC
`)
	metrics.ObserveNetworkRequest("postgres", "posts_feed", "posts", start, err)
	if err != nil {
		return nil, err
	}
	return collectPosts(rows)
}

// ListUnmoderated возвращает старые посты без вердикта, самые старые первыми.
func (p *Postgres) ListUnmoderated(ctx context.Context, olderThan time.Time, limit int) ([]domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+postColumns+`
FROM posts p JOIN users u ON u.id = p.user_id
WHERE p.sentiment IS NULL AND p.created_at < $1
ORDER BY p.created_at, p.id
LIMIT $2
`, olderThan, limit)
	metrics.ObserveNetworkRequest("postgres", "posts_unmoderated", "posts", start, err)
	if err != nil {
		return nil, err
	}
	return collectPosts(rows)
}

// ApplyModeration пишет вердикт, не трогая текст поста. Обычная задача
// обновляет только пост без вердикта, поэтому повторная доставка ничего не меняет.
// Повторная проверка перезаписывает вердикт под advisory-блокировкой поста.
func (p *Postgres) ApplyModeration(ctx context.Context, postID int64, result domain.ModerationResult, reprocess bool) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var correction sql.NullString
	if result.Correction != nil {
		correction = sql.NullString{String: *result.Correction, Valid: true}
	}

	if !reprocess {
		start := time.Now()
		tag, err := p.pool.Exec(ctx, `
UPDATE posts SET sentiment = $2, correction = $3
WHERE id = $1 AND sentiment IS NULL
`, postID, string(result.Sentiment), correction)
		metrics.ObserveNetworkRequest("postgres", "posts_moderate", "posts", start, err)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() > 0, nil
	}

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "posts", start, err)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, postID); err != nil {
		return false, err
	}
	start = time.Now()
	tag, err := tx.Exec(ctx, `UPDATE posts SET sentiment = $2, correction = $3 WHERE id = $1`, postID, string(result.Sentiment), correction)
	metrics.ObserveNetworkRequest("postgres", "posts_remoderate", "posts", start, err)
	if err != nil {
		return false, err
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "posts", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetUser реализует domain.UserRepo.
func (p *Postgres) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		user    domain.User
		isAdmin bool
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT id, username, is_admin, created_at FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.Username, &isAdmin, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	user.Role = roleFromFlag(isAdmin)
	return user, nil
}

// ListUsers возвращает всех пользователей по возрастанию id.
func (p *Postgres) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, username, is_admin, created_at FROM users ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "users_list", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var (
			user    domain.User
			isAdmin bool
		)
		if err := rows.Scan(&user.ID, &user.Username, &isAdmin, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.Role = roleFromFlag(isAdmin)
		users = append(users, user)
	}
	return users, rows.Err()
}

// DeleteUser удаляет пользователя. Посты удаляются каскадом.
func (p *Postgres) DeleteUser(ctx context.Context, userID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	metrics.ObserveNetworkRequest("postgres", "users_delete", "users", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func roleFromFlag(isAdmin bool) domain.UserRole {
	if isAdmin {
		return domain.UserRoleAdmin
	}
	return domain.UserRoleUser
}

func collectPosts(rows pgx.Rows) ([]domain.Post, error) {
	defer rows.Close()
	posts := make([]domain.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}
