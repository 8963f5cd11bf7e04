package notification

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/beatnotify/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// journalQueue は書き込み待ちの操作を溜める数。
const journalQueue = 1024

type journalOpKind int

const (
	opAppend journalOpKind = iota
	opRead
	opClear
)

// journalOp はジャーナルへの書き込み1件。
type journalOp struct {
	kind           journalOpKind
	notification   Notification
	userID         string
	notificationID string
}

// Journal はStoreの変更をSQLiteに書き出す Recorder。
// 書き込みは Run を実行する単一のゴルーチンが順番に行う。
// キューが一杯の場合は操作を捨てるため、配信の保証にはならない。
type Journal struct {
	db     *sql.DB
	limit  int
	ops    chan journalOp
	logger *slog.Logger
}

// OpenJournal はpathのSQLiteファイルを開いてスキーマを適用する。
func OpenJournal(ctx context.Context, path string, limit int, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	j, err := NewJournal(ctx, db, limit, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// NewJournal は開いたデータベースでJournalを生成し、スキーマを適用する。
func NewJournal(ctx context.Context, db *sql.DB, limit int, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	// 書き込みは1本に直列化する
	db.SetMaxOpenConns(1)

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Journal{
		db:     db,
		limit:  limit,
		ops:    make(chan journalOp, journalQueue),
		logger: logger,
	}, nil
}

// RecordAppend は通知の追加を書き込みキューに入れる。
func (j *Journal) RecordAppend(n Notification) {
	j.enqueue(journalOp{kind: opAppend, notification: n, userID: n.UserID})
}

// RecordRead は既読化を書き込みキューに入れる。
func (j *Journal) RecordRead(userID, notificationID string) {
	j.enqueue(journalOp{kind: opRead, userID: userID, notificationID: notificationID})
}

// RecordClear は全削除を書き込みキューに入れる。
func (j *Journal) RecordClear(userID string) {
	j.enqueue(journalOp{kind: opClear, userID: userID})
}

func (j *Journal) enqueue(op journalOp) {
	select {
	case j.ops <- op:
	default:
		j.logger.Warn("ジャーナルのキューが一杯のため操作を破棄しました", "user_id", op.userID)
	}
}

// Run はctxがキャンセルされるまでキューの操作をデータベースに書き込む。
// キャンセル後はキューに残った操作を書き切ってから戻る。
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case op := <-j.ops:
			j.apply(context.WithoutCancel(ctx), op)
		case <-ctx.Done():
			j.drain(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (j *Journal) drain(ctx context.Context) {
	for {
		select {
		case op := <-j.ops:
			j.apply(ctx, op)
		default:
			return
		}
	}
}

// apply は操作を1件書き込む。失敗はログに残して続行する。
func (j *Journal) apply(ctx context.Context, op journalOp) {
	var err error
	switch op.kind {
	case opAppend:
		err = j.insert(ctx, op.notification)
	case opRead:
		_, err = j.db.ExecContext(ctx,
			"UPDATE notifications SET is_read = 1 WHERE user_id = ? AND id = ?",
			op.userID, op.notificationID)
	case opClear:
		_, err = j.db.ExecContext(ctx, "DELETE FROM notifications WHERE user_id = ?", op.userID)
	}
	if err != nil {
		j.logger.Error("ジャーナルへの書き込みに失敗", "user_id", op.userID, "error", err)
	}
}

// insert は通知を追加し、上限を超えた古い行を削除する。
func (j *Journal) insert(ctx context.Context, n Notification) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications
			(id, user_id, type, title, content, related_id, related_type, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Content, n.RelatedID, n.RelatedType,
		boolToInt(n.Read), n.Timestamp.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("通知の挿入に失敗: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE user_id = ? AND seq NOT IN (
			SELECT seq FROM notifications WHERE user_id = ? ORDER BY seq DESC LIMIT ?
		)`, n.UserID, n.UserID, j.limit); err != nil {
		return fmt.Errorf("古い通知の削除に失敗: %w", err)
	}
	return tx.Commit()
}

// Load はジャーナルの通知を追加順に全て返す。Store.Warm にそのまま渡せる。
func (j *Journal) Load(ctx context.Context) ([]Notification, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, content, related_id, related_type, is_read, created_at
		FROM notifications ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Notification
	for rows.Next() {
		var (
			n         Notification
			kind      string
			isRead    int
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.Title, &n.Content,
			&n.RelatedID, &n.RelatedType, &isRead, &createdAt); err != nil {
			return nil, fmt.Errorf("通知の読み取りに失敗: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("作成日時のパースに失敗: %w", err)
		}
		n.Type = Kind(kind)
		n.Read = isRead != 0
		n.Timestamp = ts
		out = append(out, n)
	}
	return out, rows.Err()
}

// Close はデータベース接続を閉じる。Run が戻った後に呼ぶこと。
func (j *Journal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
