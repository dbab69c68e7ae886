// Package inbox persists kept quorum messages.
package inbox

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pandodao/generic"

	"github.com/looncoop/loon/core"
)

func New(db *sql.DB) core.MessageStore {
	return &store{db: db}
}

type store struct {
	db *sql.DB
}

// save inserts one entry. Entries carrying an event id insert at most
// once; a replayed event is silently skipped and the entry keeps a
// zero ID.
func save(ctx context.Context, tx *sql.Tx, entry *core.InboxEntry) error {
	b := sq.Insert("inbox").
		Options("OR IGNORE").
		Columns("created_at", "account_id", "quorum_id", "event_id", "sender", "kind", "plaintext", "verify").
		Values(entry.CreatedAt, entry.AccountID, entry.QuorumIndex, entry.EventID, entry.Sender, entry.Kind, []byte(entry.Plaintext), entry.Verify)
	stmt, args := b.MustSql()
	result, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil || n == 0 {
		return err
	}

	entry.ID, err = result.LastInsertId()
	return err
}

func (s *store) Save(ctx context.Context, entries []*core.InboxEntry) error {
	tx := generic.Must(s.db.Begin())
	defer tx.Rollback()

	for _, entry := range entries {
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}

		if err := save(ctx, tx, entry); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *store) ListAccount(ctx context.Context, accountID int64, limit int) ([]*core.InboxEntry, error) {
	b := listBuilder(limit).
		Where("inbox.account_id = ?", accountID)
	return s.list(ctx, b)
}

func (s *store) ListSender(ctx context.Context, accountID int64, sender string, limit int) ([]*core.InboxEntry, error) {
	b := listBuilder(limit).
		Where("inbox.account_id = ? AND inbox.sender = ?", accountID, sender)
	return s.list(ctx, b)
}

func listBuilder(limit int) sq.SelectBuilder {
	return sq.Select(scanColumns...).
		From("inbox").
		LeftJoin("friend ON friend.account_id = inbox.account_id AND friend.quorum_id = inbox.quorum_id").
		OrderBy("inbox.id").
		Limit(uint64(limit))
}

func (s *store) list(ctx context.Context, b sq.SelectBuilder) ([]*core.InboxEntry, error) {
	stmt, args := b.MustSql()
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var entries []*core.InboxEntry
	for rows.Next() {
		var entry core.InboxEntry
		if err := scanEntry(rows, &entry); err != nil {
			return nil, err
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

func (s *store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	b := sq.Delete("inbox").Where("created_at < ?", cutoff)
	stmt, args := b.MustSql()
	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
