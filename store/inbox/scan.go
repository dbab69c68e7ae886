package inbox

import (
	"database/sql"

	"github.com/looncoop/loon/core"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

var scanColumns = []string{
	"inbox.id",
	"inbox.created_at",
	"inbox.account_id",
	"inbox.quorum_id",
	"inbox.event_id",
	"inbox.sender",
	"friend.alias",
	"inbox.kind",
	"inbox.plaintext",
	"inbox.verify",
}

func scanEntry(scanner scanner, entry *core.InboxEntry) error {
	var (
		alias     sql.NullString
		plaintext []byte
	)

	if err := scanner.Scan(
		&entry.ID,
		&entry.CreatedAt,
		&entry.AccountID,
		&entry.QuorumIndex,
		&entry.EventID,
		&entry.Sender,
		&alias,
		&entry.Kind,
		&plaintext,
		&entry.Verify,
	); err != nil {
		return err
	}

	entry.SenderAlias = alias.String
	entry.Plaintext = string(plaintext)
	return nil
}
