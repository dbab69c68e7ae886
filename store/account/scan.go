package account

import (
	"database/sql"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/fingerprint"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

var scanColumns = []string{
	"id",
	"nick",
	"descriptor",
}

func scanAccount(scanner scanner, account *core.Account) error {
	var desc []byte
	if err := scanner.Scan(
		&account.ID,
		&account.Nick,
		&desc,
	); err != nil {
		return err
	}

	account.Descriptor = string(desc)
	account.Fingerprint = fingerprint.Derive(desc)
	return nil
}

var participantColumns = []string{
	"account_id",
	"quorum_id",
	"npub",
	"alias",
}

func scanParticipant(scanner scanner, p *core.Participant) error {
	var alias sql.NullString
	if err := scanner.Scan(
		&p.AccountID,
		&p.QuorumIndex,
		&p.NPub,
		&alias,
	); err != nil {
		return err
	}

	p.Alias = alias.String
	return nil
}
