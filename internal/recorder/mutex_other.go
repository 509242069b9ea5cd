//go:build !unix && !windows

package recorder

import "os"

// Platforms without advisory file locks only get in-process exclusion.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
