//go:build !unix && !windows

package fslock

import "os"

// Only the process-local mutex applies on platforms without advisory locks.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
