package main

import (
	"database/sql"

	"github.com/google/wire"
	"github.com/spf13/viper"

	"github.com/looncoop/loon/store/account"
	"github.com/looncoop/loon/store/db"
	"github.com/looncoop/loon/store/inbox"
	"github.com/looncoop/loon/store/property"
)

var storeSet = wire.NewSet(
	provideDB,
	account.New,
	inbox.New,
	property.New,
)

func provideDB(v *viper.Viper) (*sql.DB, func(), error) {
	v.SetDefault("db.path", "loon.db")

	conn, err := db.Open(v.GetString("db.path"))
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(conn); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	return conn, func() { _ = conn.Close() }, nil
}
