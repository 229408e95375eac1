//go:build !cgo

package sqlite

// HasLibSQL reports whether this build registered the native libsql driver
func HasLibSQL() bool { return false }
