// Package chain talks to a bitcoind-compatible node over JSON-RPC and
// exposes it as the engine's chain source. The node needs no wallet
// and no address index; unspent outputs are found with scantxoutset
// over the descriptor's scripts.
package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/looncoop/loon/core"
)

type Config struct {
	Host string `json:"host" valid:"required"`
	User string `json:"user"`
	Pass string `json:"pass"`
	// CookiePath, when set, overrides User/Pass with the node's
	// rotating auth cookie.
	CookiePath string `json:"cookie_path"`
}

type Client struct {
	rpc *rpcclient.Client
}

func New(cfg Config) (*Client, error) {
	user, pass := cfg.User, cfg.Pass
	if cfg.CookiePath != "" {
		var err error
		user, pass, err = ReadCookie(cfg.CookiePath)
		if err != nil {
			return nil, err
		}
	}

	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: connect %s: %w", cfg.Host, err)
	}

	return &Client{rpc: rpc}, nil
}

func (c *Client) Close() {
	c.rpc.Shutdown()
}

// call bounds one blocking rpc round trip by the context deadline.
// rpcclient has no context support of its own.
func call[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("chain: %s: %w", op, core.ErrChainTimeout)
		}
		return zero, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return zero, wrapErr(op, r.err)
		}
		return r.value, nil
	}
}

// wrapErr separates node-level rejections, which the node actually
// returned, from transport failures, which are retryable.
func wrapErr(op string, err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("chain: %s: %w", op, err)
	}
	return fmt.Errorf("chain: %s: %w: %v", op, core.ErrChainUnavailable, err)
}

func (c *Client) BestBlock(ctx context.Context) (chainhash.Hash, int32, error) {
	type block struct {
		hash   *chainhash.Hash
		height int32
	}

	b, err := call(ctx, "getbestblock", func() (block, error) {
		hash, err := c.rpc.GetBestBlockHash()
		if err != nil {
			return block{}, err
		}
		header, err := c.rpc.GetBlockHeaderVerbose(hash)
		if err != nil {
			return block{}, err
		}
		return block{hash: hash, height: header.Height}, nil
	})
	if err != nil {
		return chainhash.Hash{}, 0, err
	}

	return *b.hash, b.height, nil
}

// scantxoutset result shape; btcjson has no typed wrapper for it.
type scanResult struct {
	Success  bool   `json:"success"`
	Height   int32  `json:"height"`
	Unspents []struct {
		TxID         string  `json:"txid"`
		Vout         uint32  `json:"vout"`
		ScriptPubKey string  `json:"scriptPubKey"`
		Amount       float64 `json:"amount"`
		Height       int32   `json:"height"`
	} `json:"unspents"`
}

func (c *Client) ScanUnspent(ctx context.Context, scripts [][]byte) ([]core.ScriptUTXO, error) {
	if len(scripts) == 0 {
		return nil, nil
	}

	byScript := make(map[string]int, len(scripts))
	descs := make([]string, len(scripts))
	for i, script := range scripts {
		h := hex.EncodeToString(script)
		byScript[h] = i
		descs[i] = "raw(" + h + ")"
	}

	result, err := call(ctx, "scantxoutset", func() (*scanResult, error) {
		action, _ := json.Marshal("start")
		objects, err := json.Marshal(descs)
		if err != nil {
			return nil, err
		}

		raw, err := c.rpc.RawRequest("scantxoutset", []json.RawMessage{action, objects})
		if err != nil {
			return nil, err
		}

		var result scanResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, err
		}
		return &result, nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Success {
		return nil, fmt.Errorf("chain: scantxoutset: %w: scan did not complete", core.ErrChainUnavailable)
	}

	utxos := make([]core.ScriptUTXO, 0, len(result.Unspents))
	for _, u := range result.Unspents {
		idx, ok := byScript[u.ScriptPubKey]
		if !ok {
			continue
		}

		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("chain: scantxoutset: bad txid %q: %w", u.TxID, err)
		}
		value, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("chain: scantxoutset: bad amount %v: %w", u.Amount, err)
		}

		utxos = append(utxos, core.ScriptUTXO{
			ScriptIndex: idx,
			OutPoint:    wire.OutPoint{Hash: *hash, Index: u.Vout},
			Value:       value,
			Height:      u.Height,
		})
	}

	return utxos, nil
}

func (c *Client) Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	hash, err := call(ctx, "sendrawtransaction", func() (*chainhash.Hash, error) {
		return c.rpc.SendRawTransaction(tx, false)
	})
	if err != nil {
		return chainhash.Hash{}, err
	}

	return *hash, nil
}
