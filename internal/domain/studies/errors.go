package studies

import "errors"

// ErrRootNotFound indicates the scan root does not exist.
var ErrRootNotFound = errors.New("scan root does not exist")

// ErrRootNotDirectory indicates the scan root exists but is not a directory.
var ErrRootNotDirectory = errors.New("scan root is not a directory")

// ErrUnknownPhantom indicates a phantom model outside the supported set.
var ErrUnknownPhantom = errors.New("unknown phantom model")

// ParsePhantom validates a phantom model name.
func ParsePhantom(name string) (Phantom, error) {
	for _, p := range Phantoms() {
		if string(p) == name {
			return p, nil
		}
	}
	return "", ErrUnknownPhantom
}
