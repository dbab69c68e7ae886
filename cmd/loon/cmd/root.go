package cmd

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/service/chain"
	"github.com/looncoop/loon/service/cipher"
	"github.com/looncoop/loon/service/router"
	"github.com/looncoop/loon/service/wallet"
	"github.com/looncoop/loon/store/account"
	"github.com/looncoop/loon/store/db"
	"github.com/looncoop/loon/store/inbox"
	"github.com/looncoop/loon/store/property"
	"github.com/looncoop/loon/transport/nostr"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "loon",
	Short:         "watch-only quorum wallet coordinator",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Int64P("account-id", "a", 0, "account id")
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "config file path")
	viper.BindPFlag("account_id", rootCmd.PersistentFlags().Lookup("account-id"))
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

// env wires the local stores and services a subcommand needs. Built
// per invocation; closing it closes the database.
type env struct {
	v      *viper.Viper
	logger *slog.Logger

	db         *sql.DB
	accounts   core.AccountStore
	inbox      core.MessageStore
	properties core.PropertyStore
}

func getEnv() (*env, func(), error) {
	v := viper.New()
	v.SetConfigFile(viper.GetString("config"))
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, err
	}

	v.SetDefault("db.path", "loon.db")

	conn, err := db.Open(v.GetString("db.path"))
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(conn); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	e := &env{
		v:          v,
		logger:     slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		db:         conn,
		accounts:   account.New(conn),
		inbox:      inbox.New(conn),
		properties: property.New(conn),
	}

	return e, func() { _ = conn.Close() }, nil
}

func (e *env) netParams() (*chaincfg.Params, error) {
	e.v.SetDefault("network", "mainnet")

	switch name := e.v.GetString("network"); name {
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

func (e *env) chain() (*chain.Client, error) {
	cookie := e.v.GetString("bitcoind.cookie")
	if path := os.Getenv("RPC_COOKIE"); path != "" {
		cookie = path
	}

	return chain.New(chain.Config{
		Host:       e.v.GetString("bitcoind.host"),
		User:       e.v.GetString("bitcoind.user"),
		Pass:       e.v.GetString("bitcoind.pass"),
		CookiePath: cookie,
	})
}

func (e *env) engine() (*wallet.Engine, error) {
	params, err := e.netParams()
	if err != nil {
		return nil, err
	}

	source, err := e.chain()
	if err != nil {
		return nil, err
	}

	cfg := wallet.Config{
		GapLimit:   uint32(e.v.GetUint("wallet.gap_limit")),
		StaleAfter: e.v.GetDuration("wallet.stale_after"),
	}

	return wallet.New(e.accounts, source, params, cfg, e.logger), nil
}

// secret returns the local identity key as raw hex, from NOSTR_NSEC
// or the nostr.nsec config key.
func (e *env) secret() (string, error) {
	secret := e.v.GetString("nostr.nsec")
	if env := os.Getenv("NOSTR_NSEC"); env != "" {
		secret = env
	}
	if secret == "" {
		return "", errors.New("no identity key; set NOSTR_NSEC or nostr.nsec")
	}

	return cipher.DecodeSecret(secret)
}

func (e *env) transport() (*nostr.Client, error) {
	sk, err := e.secret()
	if err != nil {
		return nil, err
	}

	return nostr.New(nostr.Config{
		Relays:   e.v.GetStringSlice("nostr.relays"),
		Lookback: e.v.GetDuration("nostr.lookback"),
	}, sk, e.logger)
}

func (e *env) router() (*router.Router, error) {
	sk, err := e.secret()
	if err != nil {
		return nil, err
	}

	ciph, err := cipher.NewNIP04(sk)
	if err != nil {
		return nil, err
	}

	transport, err := e.transport()
	if err != nil {
		return nil, err
	}

	key, err := hex.DecodeString(sk)
	if err != nil {
		return nil, err
	}

	return router.New(e.accounts, e.inbox, ciph, transport, e.logger, router.WithSignKey(key)), nil
}

func requireAccount() (int64, error) {
	id := viper.GetInt64("account_id")
	if id == 0 {
		return 0, errors.New("account required; pass -a/--account-id")
	}
	return id, nil
}

func printJson(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	cmd.Println(string(b))
	return nil
}
