package main

import (
	"github.com/google/wire"
	"github.com/spf13/viper"

	"github.com/looncoop/loon/worker/cleaner"
	"github.com/looncoop/loon/worker/fetcher"
	"github.com/looncoop/loon/worker/syncer"
)

var workerSet = wire.NewSet(
	provideSyncerConfig,
	syncer.New,
	provideFetcherConfig,
	fetcher.New,
	provideCleanerConfig,
	cleaner.New,
)

func provideSyncerConfig(v *viper.Viper) syncer.Config {
	return syncer.Config{
		Interval: v.GetDuration("syncer.interval"),
		Timeout:  v.GetDuration("syncer.timeout"),
	}
}

func provideFetcherConfig(v *viper.Viper) fetcher.Config {
	return fetcher.Config{
		Interval: v.GetDuration("fetcher.interval"),
		Timeout:  v.GetDuration("fetcher.timeout"),
	}
}

func provideCleanerConfig(v *viper.Viper) cleaner.Config {
	v.SetDefault("cleaner.retention", "720h")

	return cleaner.Config{
		Retention: v.GetDuration("cleaner.retention"),
	}
}
