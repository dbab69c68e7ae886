package wallet

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/google/uuid"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/descriptor"
)

// Inputs signal replaceability while still allowing locktime.
const proposalSequence = wire.MaxTxInSequenceNum - 2

// BuildProposal drafts an unsigned spend of the account's synced
// outputs. Inputs are chosen largest first; change, when above dust,
// returns to the next unused internal slot. Selected inputs are marked
// spent in the snapshot so overlapping proposals cannot double-spend
// them before the next sync.
func (e *Engine) BuildProposal(ctx context.Context, accountID int64, recipients []core.Recipient, feePerKb btcutil.Amount) (*core.SpendProposal, error) {
	desc, err := e.Descriptor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	state, err := e.State(accountID)
	if err != nil {
		return nil, err
	}

	outs, err := e.parseRecipients(recipients)
	if err != nil {
		return nil, err
	}
	if feePerKb <= 0 {
		feePerKb = txrules.DefaultRelayFeePerKb
	}

	change, err := e.changeFor(desc, state)
	if err != nil {
		return nil, fmt.Errorf("account %d: derive change: %w", accountID, err)
	}

	selected, fee, changeValue, err := selectInputs(desc, spendable(state), outs, len(change.WitnessScript), change.PkScript, feePerKb)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}

	packet, err := e.assemblePacket(desc, selected, outs, change, changeValue)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}

	if err := e.markSpent(accountID, selected); err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}

	return &core.SpendProposal{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Packet:    packet,
		Inputs:    selected,
		Fee:       fee,
		CreatedAt: time.Now(),
	}, nil
}

// changeFor derives the next unused slot of the change keychain per
// the synced state.
func (e *Engine) changeFor(desc *descriptor.Descriptor, state *core.WalletState) (*descriptor.Derivation, error) {
	kc := core.KeychainExternal
	if desc.HasInternal() {
		kc = core.KeychainInternal
	}
	index := uint32(0)
	if last, ok := state.LastUsed[kc]; ok {
		index = last + 1
	}
	return desc.DeriveAt(kc, index, e.params)
}

// SelectInputs previews which outputs a spend of target at the given
// fee rate would consume, without reserving them. Any participant can
// run it against their own synced state and compare the result to a
// circulated proposal's inputs.
func (e *Engine) SelectInputs(ctx context.Context, accountID int64, target btcutil.Amount, feePerKb btcutil.Amount) ([]core.UTXO, error) {
	desc, err := e.Descriptor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	state, err := e.State(accountID)
	if err != nil {
		return nil, err
	}
	if feePerKb <= 0 {
		feePerKb = txrules.DefaultRelayFeePerKb
	}

	change, err := e.changeFor(desc, state)
	if err != nil {
		return nil, fmt.Errorf("account %d: derive change: %w", accountID, err)
	}

	// The recipient script is unknown at preview time; the account's
	// own script shape stands in for fee estimation.
	outs := []txOut{{script: change.PkScript, value: target}}
	selected, _, _, err := selectInputs(desc, spendable(state), outs, len(change.WitnessScript), change.PkScript, feePerKb)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", accountID, err)
	}
	return selected, nil
}

// selectInputs accumulates the pre-sorted outputs until they cover the
// recipients plus the fee at the running input count. Sub-dust change
// folds into the fee instead of creating an unspendable output.
func selectInputs(desc *descriptor.Descriptor, utxos []core.UTXO, outs []txOut, witnessScriptLen int, changeScript []byte, feePerKb btcutil.Amount) ([]core.UTXO, btcutil.Amount, btcutil.Amount, error) {
	var target btcutil.Amount
	for _, o := range outs {
		target += o.value
	}

	var (
		selected []core.UTXO
		total    btcutil.Amount
	)
	for _, u := range utxos {
		selected = append(selected, u)
		total += u.Value

		fee := feeFor(desc, witnessScriptLen, len(selected), outs, len(changeScript), feePerKb)
		if total < target+fee {
			continue
		}

		changeValue := total - target - fee
		if txrules.IsDustOutput(wire.NewTxOut(int64(changeValue), changeScript), feePerKb) {
			return selected, total - target, 0, nil
		}
		return selected, fee, changeValue, nil
	}

	return nil, 0, 0, fmt.Errorf("%w: have %s, want %s plus fee", core.ErrInsufficientFunds, total, target)
}

func (e *Engine) assemblePacket(desc *descriptor.Descriptor, inputs []core.UTXO, outs []txOut, change *descriptor.Derivation, changeValue btcutil.Amount) (*psbt.Packet, error) {
	tx := wire.NewMsgTx(2)
	for _, in := range inputs {
		txIn := wire.NewTxIn(&in.OutPoint, nil, nil)
		txIn.Sequence = proposalSequence
		tx.AddTxIn(txIn)
	}
	for _, o := range outs {
		tx.AddTxOut(wire.NewTxOut(int64(o.value), o.script))
	}
	if changeValue > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(changeValue), change.PkScript))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("build psbt: %w", err)
	}

	for i, in := range inputs {
		dv, err := desc.DeriveAt(in.Keychain, in.Index, e.params)
		if err != nil {
			return nil, fmt.Errorf("derive input %d: %w", i, err)
		}

		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(int64(in.Value), in.PkScript)
		packet.Inputs[i].WitnessScript = dv.WitnessScript
		packet.Inputs[i].Bip32Derivation = bip32Derivations(dv)
	}

	if changeValue > 0 {
		out := &packet.Outputs[len(outs)]
		out.WitnessScript = change.WitnessScript
		out.Bip32Derivation = bip32Derivations(change)
	}

	return packet, nil
}

// bip32Derivations tells each signer where its key lives.
func bip32Derivations(dv *descriptor.Derivation) []*psbt.Bip32Derivation {
	derivations := make([]*psbt.Bip32Derivation, 0, len(dv.Keys))
	for _, k := range dv.Keys {
		derivations = append(derivations, &psbt.Bip32Derivation{
			PubKey:               k.PubKey.SerializeCompressed(),
			MasterKeyFingerprint: binary.LittleEndian.Uint32(k.MasterFingerprint[:]),
			Bip32Path:            k.Path,
		})
	}
	return derivations
}

// markSpent flags the proposal's inputs in the snapshot.
func (e *Engine) markSpent(accountID int64, inputs []core.UTXO) error {
	st := e.accountState(accountID)

	st.stateMu.Lock()
	defer st.stateMu.Unlock()

	if st.state == nil {
		return core.ErrNotSynced
	}

	byOutpoint := make(map[wire.OutPoint]int, len(st.state.UTXOs))
	for i, u := range st.state.UTXOs {
		byOutpoint[u.OutPoint] = i
	}

	// Validate the whole set before touching it; a rejected proposal
	// must not leave inputs half-reserved.
	for _, in := range inputs {
		i, ok := byOutpoint[in.OutPoint]
		if !ok || st.state.UTXOs[i].Spent {
			return fmt.Errorf("%w: %s", core.ErrInputSpent, in.OutPoint.String())
		}
	}
	for _, in := range inputs {
		st.state.UTXOs[byOutpoint[in.OutPoint]].Spent = true
	}

	return nil
}

// AcceptSigned finalizes a signed packet and broadcasts it once. The
// packet must carry enough signatures to satisfy the policy; a
// structurally unsatisfiable packet never reaches the chain source.
func (e *Engine) AcceptSigned(ctx context.Context, accountID int64, packet *psbt.Packet) (chainhash.Hash, error) {
	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return chainhash.Hash{}, fmt.Errorf("account %d: %w: %v", accountID, core.ErrPolicyUnsatisfiable, err)
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("account %d: extract: %w", accountID, err)
	}

	hash, err := e.chain.Broadcast(ctx, tx)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("account %d: %w", accountID, err)
	}

	e.logger.Info("broadcast", "account", accountID, "tx", hash.String())
	return hash, nil
}
