package registry

import "errors"

var (
	// ErrTabletNotExist is returned by Acquire/CompareAndSwap when no
	// tablet is published at the requested key (Del treats an absent key
	// as already removed and returns nil).
	ErrTabletNotExist = errors.New("registry: tablet does not exist")

	// ErrTabletExist is returned when a create path finds a tablet already
	// published at the key.
	ErrTabletExist = errors.New("registry: tablet already exists")

	// ErrCASConflict is returned by CompareAndSwap when the expected
	// handle no longer matches the published one.
	ErrCASConflict = errors.New("registry: compare-and-swap lost the race")

	// ErrPinned is returned by Del when the tablet still has outstanding
	// pinned references.
	ErrPinned = errors.New("registry: tablet is pinned")
)
