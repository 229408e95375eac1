//go:build !unix

package daemon

import (
	"fmt"
	"os"
)

// acquireLock degrades to an exclusive create on platforms without
// flock. A stale lock file from a crashed daemon must be removed by
// hand.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("another daemon may already hold %s: %w", path, err)
	}
	return f, nil
}

func releaseLock(f *os.File) {
	if f == nil {
		return
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
}
