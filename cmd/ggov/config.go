package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gordian-engine/ggov/gstore"
	"github.com/gordian-engine/ggov/gstore/gdirstore"
	"github.com/gordian-engine/ggov/gstore/gmemstore"
	"github.com/gordian-engine/ggov/gstore/gsqlite"
)

const envPrefix = "GGOV"

const (
	storeKindFlag = "store-kind"
	storePathFlag = "store-path"
)

// Values accepted by --store-kind.
const (
	storeKindDir    = "dir"
	storeKindSQLite = "sqlite"
	storeKindMem    = "mem"
)

// newViper returns a viper instance reading fs,
// with each flag overridable by its GGOV_ environment variable.
func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

func addStoreFlags(fs *pflag.FlagSet) {
	fs.String(storeKindFlag, storeKindDir, "Storage backend for governance and log state: dir, sqlite, or mem (mem only useful for testing)")
	fs.String(storePathFlag, "", "Directory for the dir backend, or database path for the sqlite backend (the exact string :memory: uses an in-memory database)")
}

// openStorage opens the storage backend configured in v.
// The returned close function must be called once the storage is no longer needed.
func openStorage(ctx context.Context, v *viper.Viper) (gstore.Storage, func() error, error) {
	noop := func() error { return nil }

	kind := v.GetString(storeKindFlag)
	path := v.GetString(storePathFlag)

	switch kind {
	case storeKindMem:
		return gmemstore.NewStorage(), noop, nil

	case storeKindDir:
		if path == "" {
			return nil, nil, fmt.Errorf("--%s is required for the %s backend", storePathFlag, kind)
		}
		s, err := gdirstore.NewStorage(path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	case storeKindSQLite:
		if path == "" {
			return nil, nil, fmt.Errorf("--%s is required for the %s backend", storePathFlag, kind)
		}

		var s *gsqlite.Storage
		var err error
		if path == ":memory:" {
			s, err = gsqlite.NewInMemStorage(ctx)
		} else {
			s, err = gsqlite.NewOnDiskStorage(ctx, path)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown --%s %q", storeKindFlag, kind)
	}
}

// parsePeerAddrs splits a newline- or comma-separated list of multiaddrs.
func parsePeerAddrs(vals []string) []string {
	var out []string
	for _, val := range vals {
		for _, a := range strings.FieldsFunc(val, func(r rune) bool {
			return r == '\n' || r == ','
		}) {
			if a = strings.TrimSpace(a); a != "" {
				out = append(out, a)
			}
		}
	}
	return out
}
