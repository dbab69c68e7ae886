package wallet

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/shopspring/decimal"

	"github.com/looncoop/loon/descriptor"
)

const (
	txOverheadSize = 4 + 4 // version + locktime
	txInBaseSize   = 32 + 4 + 1 + 4
	sigSize        = 72 // DER signature incl. sighash byte, worst case
)

// FeePerKb converts a sat/vB rate into the per-kilobyte amount the fee
// rules work in.
func FeePerKb(satPerVByte decimal.Decimal) btcutil.Amount {
	return btcutil.Amount(satPerVByte.Mul(decimal.NewFromInt(1000)).IntPart())
}

func varIntSize(n int) int {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	default:
		return 5
	}
}

// multisigWitnessSize is the worst-case witness byte count for one
// input spending a k-of-n witness script.
func multisigWitnessSize(threshold, witnessScriptLen int) int {
	// item count + CHECKMULTISIG dummy + k signatures + script
	return 1 + 1 + threshold*(1+sigSize) + varIntSize(witnessScriptLen) + witnessScriptLen
}

// estimateVSize is the worst-case virtual size of a spend with the
// given shape. outs excludes change; changeScriptSize of zero means no
// change output.
func estimateVSize(desc *descriptor.Descriptor, witnessScriptLen, numIn int, outs []txOut, changeScriptSize int) int {
	// Single-sig shapes have standard estimators; only the multisig
	// witness needs counting by hand.
	if desc.Kind != descriptor.ScriptP2WSH {
		txOuts := make([]*wire.TxOut, 0, len(outs))
		for _, o := range outs {
			txOuts = append(txOuts, wire.NewTxOut(int64(o.value), o.script))
		}

		var p2pkh, p2wpkh int
		if desc.Kind == descriptor.ScriptP2PKH {
			p2pkh = numIn
		} else {
			p2wpkh = numIn
		}

		return txsizes.EstimateVirtualSize(p2pkh, 0, p2wpkh, 0, txOuts, changeScriptSize)
	}

	numOut := len(outs)
	if changeScriptSize > 0 {
		numOut++
	}

	base := txOverheadSize + varIntSize(numIn) + varIntSize(numOut)
	base += numIn * txInBaseSize
	for _, o := range outs {
		base += 8 + varIntSize(len(o.script)) + len(o.script)
	}
	if changeScriptSize > 0 {
		base += 8 + varIntSize(changeScriptSize) + changeScriptSize
	}

	// marker + flag, then one witness stack per input
	witness := 2 + numIn*multisigWitnessSize(desc.Threshold(), witnessScriptLen)

	weight := base*4 + witness
	return (weight + 3) / 4
}

// feeFor is the worst-case fee of a spend with the given shape.
func feeFor(desc *descriptor.Descriptor, witnessScriptLen, numIn int, outs []txOut, changeScriptSize int, feePerKb btcutil.Amount) btcutil.Amount {
	vsize := estimateVSize(desc, witnessScriptLen, numIn, outs, changeScriptSize)
	return txrules.FeeForSerializeSize(feePerKb, vsize)
}
