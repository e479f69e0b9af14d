package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/kiji/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

const postColumns = `id, title, body, published, author_id, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*model.Post, error) {
	post := &model.Post{}
	err := row.Scan(
		&post.ID, &post.Title, &post.Body, &post.Published,
		&post.AuthorID, &post.CreatedAt, &post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return post, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`,
		id,
	)

	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}

	return post, nil
}

// List は記事一覧を作成日時の降順で取得する。
// ウィンドウ[skip, skip+limit-1]はOFFSET/LIMITに対応し、範囲外は空スライスになる。
func (r *PostgresPostRepo) List(ctx context.Context, skip, limit int, publishedOnly bool) ([]*model.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts`
	if publishedOnly {
		query += ` WHERE published = true`
	}
	query += ` ORDER BY created_at DESC OFFSET $1 LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

// ListByAuthor は指定著者の全記事（下書き含む）を作成日時の降順で取得する。
func (r *PostgresPostRepo) ListByAuthor(ctx context.Context, authorID string) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE author_id = $1 ORDER BY created_at DESC`,
		authorID,
	)
	if err != nil {
		return nil, fmt.Errorf("著者別記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

// Create は記事を作成する。タイムスタンプはDB側のデフォルトで設定し、
// 生成された値をモデルに書き戻す。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO posts (id, title, body, published, author_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		post.ID, post.Title, post.Body, post.Published, post.AuthorID,
	).Scan(&post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}

	return nil
}

// Update は記事を部分更新する。
// patchのnilでないフィールドのみSET句に含め、updated_atはDB側で更新する。
// 空のpatchは書き込みを発行せず現在のレコードを返す。
// 存在確認と更新の間に並行する削除が入った場合はnilを返す（トランザクションによる
// 保護は行わず、この競合はドキュメント化された結果として受け入れる）。
func (r *PostgresPostRepo) Update(ctx context.Context, id string, patch *model.PostPatch) (*model.Post, error) {
	if patch.IsEmpty() {
		return r.FindByID(ctx, id)
	}

	var sets []string
	var args []any

	if patch.Title != nil {
		args = append(args, *patch.Title)
		sets = append(sets, "title = $"+strconv.Itoa(len(args)))
	}
	if patch.Body != nil {
		args = append(args, *patch.Body)
		sets = append(sets, "body = $"+strconv.Itoa(len(args)))
	}
	if patch.Published != nil {
		args = append(args, *patch.Published)
		sets = append(sets, "published = $"+strconv.Itoa(len(args)))
	}
	sets = append(sets, "updated_at = now()")

	args = append(args, id)
	query := `UPDATE posts SET ` + strings.Join(sets, ", ") +
		` WHERE id = $` + strconv.Itoa(len(args)) +
		` RETURNING ` + postColumns

	row := r.db.QueryRowContext(ctx, query, args...)

	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の更新に失敗しました: %w", err)
	}

	return post, nil
}

// Delete は指定IDの記事を削除する。実際に行が削除された場合のみtrueを返す。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM posts WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("記事の削除に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除行数の取得に失敗しました: %w", err)
	}

	return rowsAffected > 0, nil
}

func collectPosts(rows *sql.Rows) ([]*model.Post, error) {
	posts := []*model.Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}
	return posts, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
