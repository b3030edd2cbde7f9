//go:build windows

package secrets

import "os"

// lockFile is a no-op on Windows. The file backend is a fallback there;
// Windows Credential Manager is the primary store and concurrent first-run
// key creation through this path is rare.
func lockFile(f *os.File) (unlock func(), err error) {
	return func() {}, nil
}
