// Package history 把执行过的 SCPI 命令及其结果保存到 SQLite。
package history

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/xiabin827/goscpi"
)

// Entry 是一条记录。Error 非空表示命令失败。
type Entry struct {
	ID      int64
	Target  string
	Command string
	Reply   string
	IsReply bool
	Error   string
	At      time.Time
}

// Store 是命令记录库。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开（必要时创建）path 处的数据库。
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite db")
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set wal mode")
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			target TEXT NOT NULL,
			command TEXT NOT NULL,
			reply TEXT NOT NULL DEFAULT '',
			is_reply INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_commands_target ON commands(target);
	`)
	if err != nil {
		return errors.Wrap(err, "migrate history schema")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add 保存一条记录，At 为零时使用当前时间。
func (s *Store) Add(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commands(target, command, reply, is_reply, error, at)
		VALUES(?, ?, ?, ?, ?, ?)
	`, e.Target, e.Command, e.Reply, boolToInt(e.IsReply), e.Error, e.At.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "insert history entry")
	}
	return nil
}

// Recent 按时间先后返回最近的 limit 条记录；target 非空时只返回该目标的记录。
func (s *Store) Recent(ctx context.Context, target string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target, command, reply, is_reply, error, at FROM (
			SELECT * FROM commands
			WHERE ? = '' OR target = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`, target, target, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list history")
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e       Entry
			isReply int
			atMs    int64
		)
		if err := rows.Scan(&e.ID, &e.Target, &e.Command, &e.Reply, &isReply, &e.Error, &atMs); err != nil {
			return nil, errors.Wrap(err, "scan history entry")
		}
		e.IsReply = isReply != 0
		e.At = time.UnixMilli(atMs)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate history")
	}
	return out, nil
}

// Recorder 返回写入本库的 goscpi.Recorder。写入失败只记日志，不影响交互。
func (s *Store) Recorder(target string, logger *slog.Logger) goscpi.Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &recorder{store: s, target: target, log: logger.With("component", "history")}
}

type recorder struct {
	store  *Store
	target string
	log    *slog.Logger
}

func (r *recorder) Record(res goscpi.Result, err error) {
	e := Entry{
		Target:  r.target,
		Command: res.Command,
		Reply:   res.Reply,
		IsReply: res.IsReply,
	}
	if err != nil {
		e.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if addErr := r.store.Add(ctx, e); addErr != nil {
		r.log.Warn("record command", "command", res.Command, "error", addErr)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
