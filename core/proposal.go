package core

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

var (
	// ErrProposalUnderfunded is returned when the selected inputs do
	// not cover the outputs plus fee.
	ErrProposalUnderfunded = errors.New("inputs do not cover outputs plus fee")

	// ErrInputSpent is returned when a selected input is already
	// marked spent in the current wallet state.
	ErrInputSpent = errors.New("input already spent")

	// ErrPolicyUnsatisfiable is returned when the descriptor's
	// spending policy cannot be structurally satisfied.
	ErrPolicyUnsatisfiable = errors.New("spending policy not satisfiable")
)

// Recipient is one requested payment output of a spend.
type Recipient struct {
	Address string         `json:"address"`
	Amount  btcutil.Amount `json:"amount"`
}

// SpendProposal is an unsigned transaction draft handed to external
// signers. It carries no signatures; a partially signed packet
// re-enters the system only for combination and a single broadcast.
type SpendProposal struct {
	ID        string         `json:"id"`
	AccountID int64          `json:"account_id"`
	Packet    *psbt.Packet   `json:"-"`
	Inputs    []UTXO         `json:"inputs"`
	Fee       btcutil.Amount `json:"fee"`
	CreatedAt time.Time      `json:"created_at"`
}

// TotalInput sums the selected input values.
func (p *SpendProposal) TotalInput() btcutil.Amount {
	var sum btcutil.Amount
	for _, in := range p.Inputs {
		sum += in.Value
	}
	return sum
}
