//go:build !unix

package locks

import (
	"os"
)

// tryLockFile creates path exclusively. A crashed process leaves the file
// behind; remove it by hand.
func tryLockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func unlockFile(f *os.File) error {
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
