//go:build purego || !cgo

package gsqlite

import (
	_ "modernc.org/sqlite"
)

const (
	sqliteDriverType = "sqlite"
	sqliteBuildType  = "purego"
)
