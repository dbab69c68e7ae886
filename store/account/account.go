// Package account persists watch-only accounts and their quorum
// membership in the account and friend tables.
package account

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/descriptor"
	"github.com/looncoop/loon/fingerprint"
)

func New(db *sql.DB) core.AccountStore {
	return &accountStore{db: db}
}

type accountStore struct {
	db *sql.DB

	// Fingerprints are derived from descriptor bytes, not stored; the
	// index is rebuilt from the table on first lookup and maintained
	// on import and delete.
	mu    sync.Mutex
	index map[[fingerprint.Size]byte]int64
}

func (s *accountStore) Import(ctx context.Context, nick, desc string) (*core.Account, error) {
	if _, err := descriptor.Parse(desc); err != nil {
		return nil, err
	}
	canonical := descriptor.Canonicalize(desc)

	b := sq.Select("id").
		From("account").
		Where("descriptor = ?", []byte(canonical))
	stmt, args := b.MustSql()

	var existing int64
	err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&existing)
	if err == nil {
		return nil, fmt.Errorf("%w: account %d", core.ErrDuplicateDescriptor, existing)
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	ib := sq.Insert("account").
		Columns("nick", "descriptor").
		Values(nick, []byte(canonical))
	stmt, args = ib.MustSql()
	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	account := &core.Account{
		ID:          id,
		Nick:        nick,
		Descriptor:  canonical,
		Fingerprint: fingerprint.Derive([]byte(canonical)),
	}

	s.mu.Lock()
	if s.index != nil {
		s.index[account.Fingerprint] = id
	}
	s.mu.Unlock()

	return account, nil
}

func (s *accountStore) Find(ctx context.Context, id int64) (*core.Account, error) {
	b := sq.Select(scanColumns...).
		From("account").
		Where("id = ?", id)
	stmt, args := b.MustSql()
	row := s.db.QueryRowContext(ctx, stmt, args...)

	var account core.Account
	if err := scanAccount(row, &account); err != nil {
		return nil, err
	}

	return &account, nil
}

func (s *accountStore) List(ctx context.Context) ([]*core.Account, error) {
	b := sq.Select(scanColumns...).
		From("account").
		OrderBy("id")
	stmt, args := b.MustSql()
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var accounts []*core.Account
	for rows.Next() {
		var account core.Account
		if err := scanAccount(rows, &account); err != nil {
			return nil, err
		}

		accounts = append(accounts, &account)
	}

	return accounts, rows.Err()
}

func (s *accountStore) LookupFingerprint(ctx context.Context, fp [fingerprint.Size]byte) (*core.Account, error) {
	s.mu.Lock()
	if s.index == nil {
		if err := s.buildIndex(ctx); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	id, ok := s.index[fp]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: fingerprint %x", core.ErrNotFound, fp)
	}

	return s.Find(ctx, id)
}

// buildIndex loads every account and derives its fingerprint. Called
// with s.mu held.
func (s *accountStore) buildIndex(ctx context.Context) error {
	b := sq.Select("id", "descriptor").From("account")
	stmt, args := b.MustSql()
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return err
	}

	defer rows.Close()

	index := make(map[[fingerprint.Size]byte]int64)
	for rows.Next() {
		var (
			id   int64
			desc []byte
		)
		if err := rows.Scan(&id, &desc); err != nil {
			return err
		}

		index[fingerprint.Derive(desc)] = id
	}

	if err := rows.Err(); err != nil {
		return err
	}

	s.index = index
	return nil
}

func (s *accountStore) SetNick(ctx context.Context, id int64, nick string) error {
	b := sq.Update("account").
		Set("nick", nick).
		Where("id = ?", id)
	stmt, args := b.MustSql()
	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: account %d", core.ErrNotFound, id)
	}

	return nil
}

func (s *accountStore) Delete(ctx context.Context, id int64) error {
	account, err := s.Find(ctx, id)
	if err != nil {
		return err
	}

	db := sq.Delete("friend").Where("account_id = ?", id)
	stmt, args := db.MustSql()
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return err
	}

	db = sq.Delete("account").Where("id = ?", id)
	stmt, args = db.MustSql()
	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return err
	}

	s.mu.Lock()
	if s.index != nil {
		delete(s.index, account.Fingerprint)
	}
	s.mu.Unlock()

	return nil
}

func (s *accountStore) AddParticipant(ctx context.Context, p *core.Participant) error {
	if _, err := fingerprint.ParticipantByte(p.QuorumIndex); err != nil {
		return err
	}

	prefix, _, err := nip19.Decode(p.NPub)
	if err != nil || prefix != "npub" {
		return fmt.Errorf("invalid npub %q", p.NPub)
	}

	if _, err := s.Find(ctx, p.AccountID); err != nil {
		return err
	}

	b := sq.Select("npub").
		From("friend").
		Where("account_id = ? AND quorum_id = ?", p.AccountID, p.QuorumIndex)
	stmt, args := b.MustSql()

	var taken string
	err = s.db.QueryRowContext(ctx, stmt, args...).Scan(&taken)
	if err == nil {
		return fmt.Errorf("%w: index %d held by %s", core.ErrIndexConflict, p.QuorumIndex, taken)
	} else if err != sql.ErrNoRows {
		return err
	}

	ib := sq.Insert("friend").
		Columns("account_id", "quorum_id", "npub", "alias").
		Values(p.AccountID, p.QuorumIndex, p.NPub, p.Alias)
	stmt, args = ib.MustSql()
	_, err = s.db.ExecContext(ctx, stmt, args...)
	return err
}

func (s *accountStore) Participants(ctx context.Context, accountID int64) ([]*core.Participant, error) {
	b := sq.Select(participantColumns...).
		From("friend").
		Where("account_id = ?", accountID).
		OrderBy("quorum_id")
	stmt, args := b.MustSql()
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var participants []*core.Participant
	for rows.Next() {
		var p core.Participant
		if err := scanParticipant(rows, &p); err != nil {
			return nil, err
		}

		participants = append(participants, &p)
	}

	return participants, rows.Err()
}

func (s *accountStore) FindParticipant(ctx context.Context, accountID int64, quorumIndex int) (*core.Participant, error) {
	b := sq.Select(participantColumns...).
		From("friend").
		Where("account_id = ? AND quorum_id = ?", accountID, quorumIndex)
	stmt, args := b.MustSql()
	row := s.db.QueryRowContext(ctx, stmt, args...)

	var p core.Participant
	if err := scanParticipant(row, &p); err != nil {
		return nil, err
	}

	return &p, nil
}
