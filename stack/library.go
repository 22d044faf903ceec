package stack

import (
	"fmt"
	"strings"
)

// libraryFactory builds a factory for a stack loaded from a shared library.
func libraryFactory(v Variant, library string) Factory {
	return Factory{
		Variant: v,
		Library: library,
		New: func() (Installer, error) {
			if !strings.HasSuffix(library, ".so") {
				return nil, fmt.Errorf("%w: %s library %q is not a shared object", ErrStackUnavailable, v, library)
			}
			return attachInstaller{variant: v, library: library}, nil
		},
	}
}
