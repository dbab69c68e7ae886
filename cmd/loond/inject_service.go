package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/wire"
	"github.com/spf13/viper"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/service/chain"
	"github.com/looncoop/loon/service/cipher"
	"github.com/looncoop/loon/service/router"
	"github.com/looncoop/loon/service/wallet"
	"github.com/looncoop/loon/transport/nostr"
)

var serviceSet = wire.NewSet(
	provideNetParams,
	provideChainConfig,
	chain.New,
	wire.Bind(new(core.ChainSource), new(*chain.Client)),
	provideIdentity,
	provideCipher,
	provideTransport,
	wire.Bind(new(core.Transport), new(*nostr.Client)),
	provideWalletConfig,
	wallet.New,
	provideRouter,
)

// identitySecret is the node's nostr secret key, normalized to hex.
type identitySecret string

func provideNetParams(v *viper.Viper) (*chaincfg.Params, error) {
	v.SetDefault("network", "mainnet")

	switch name := v.GetString("network"); name {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

func provideChainConfig(v *viper.Viper) chain.Config {
	cookie := v.GetString("bitcoind.cookie")
	if path := os.Getenv("RPC_COOKIE"); path != "" {
		cookie = path
	}

	return chain.Config{
		Host:       v.GetString("bitcoind.host"),
		User:       v.GetString("bitcoind.user"),
		Pass:       v.GetString("bitcoind.pass"),
		CookiePath: cookie,
	}
}

func provideIdentity(v *viper.Viper) (identitySecret, error) {
	secret := v.GetString("nostr.nsec")
	if env := os.Getenv("NOSTR_NSEC"); env != "" {
		secret = env
	}

	sk, err := cipher.DecodeSecret(secret)
	if err != nil {
		return "", err
	}

	return identitySecret(sk), nil
}

func provideCipher(sec identitySecret) (core.Cipher, error) {
	return cipher.NewNIP04(string(sec))
}

func provideTransport(v *viper.Viper, sec identitySecret, logger *slog.Logger) (*nostr.Client, error) {
	cfg := nostr.Config{
		Relays:   v.GetStringSlice("nostr.relays"),
		Lookback: v.GetDuration("nostr.lookback"),
	}

	return nostr.New(cfg, string(sec), logger)
}

func provideWalletConfig(v *viper.Viper) wallet.Config {
	return wallet.Config{
		GapLimit:   uint32(v.GetUint("wallet.gap_limit")),
		StaleAfter: v.GetDuration("wallet.stale_after"),
	}
}

func provideRouter(
	accounts core.AccountStore,
	inbox core.MessageStore,
	ciph core.Cipher,
	transport core.Transport,
	sec identitySecret,
	logger *slog.Logger,
) (*router.Router, error) {
	key, err := hex.DecodeString(string(sec))
	if err != nil {
		return nil, fmt.Errorf("decode sign key: %w", err)
	}

	return router.New(accounts, inbox, ciph, transport, logger, router.WithSignKey(key)), nil
}
