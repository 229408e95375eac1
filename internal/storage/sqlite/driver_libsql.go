//go:build cgo

package sqlite

import (
	// Registers the "libsql" driver so cgo builds can keep the offline
	// store on a Turso-replicated database file.
	_ "github.com/tursodatabase/go-libsql"
)

// HasLibSQL reports whether this build registered the native libsql driver
func HasLibSQL() bool { return true }
