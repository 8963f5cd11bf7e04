// Package migration はSQLiteデータベースのスキーマを順序付きで適用する。
//
// SQLファイルは fs.FS（通常は embed.FS）から読み込み、
// schema_migrations テーブルで適用済みバージョンを管理する。
// ファイル名は 000001_description.up.sql の形式とする。
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
)

// Migration は1つのマイグレーションファイルを表す。
type Migration struct {
	// Version はファイル名先頭の連番。
	Version int
	// Name はバージョンに続く説明部分。
	Name string
	// Path はfs.FS内のファイルパス。
	Path string
}

// Run は未適用のマイグレーションをバージョン順に適用し、適用したものを返す。
// loggerがnilの場合はログを出さない。
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string, logger *slog.Logger) ([]Migration, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return nil, fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}

	all, err := Collect(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}

	var done []Migration
	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		if err := apply(ctx, db, fsys, m); err != nil {
			return done, fmt.Errorf("マイグレーション %06d の適用に失敗: %w", m.Version, err)
		}
		if logger != nil {
			logger.Info("マイグレーションを適用しました", "version", m.Version, "name", m.Name)
		}
		done = append(done, m)
	}
	return done, nil
}

// Collect はdir直下の .up.sql ファイルをバージョン順に返す。
// 形式に合わないファイル名は無視する。同じバージョンが2つある場合はエラーになる。
func Collect(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var out []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m, ok := parseName(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[m.Version]; dup {
			return nil, fmt.Errorf("バージョン %06d が重複しています: %s, %s", m.Version, prev, entry.Name())
		}
		seen[m.Version] = entry.Name()
		m.Path = path.Join(dir, entry.Name())
		out = append(out, m)
	}

	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	return out, nil
}

// parseName は 000001_name.up.sql 形式のファイル名を分解する。
func parseName(filename string) (Migration, bool) {
	base, ok := strings.CutSuffix(filename, ".up.sql")
	if !ok {
		return Migration{}, false
	}
	num, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return Migration{}, false
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return Migration{}, false
	}
	return Migration{Version: version, Name: name}, true
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// apply は1つのマイグレーションとバージョン記録を同じトランザクションで実行する。
func apply(ctx context.Context, db *sql.DB, fsys fs.FS, m Migration) error {
	content, err := fs.ReadFile(fsys, m.Path)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}
	return tx.Commit()
}
