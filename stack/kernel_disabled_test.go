//go:build !kernelstack

package stack

import (
	"errors"
	"testing"
)

func TestDefaultRegistryWithoutKernelStacks(t *testing.T) {
	reg := DefaultRegistry()
	for _, v := range []Variant{VariantLinux, VariantFreeBSD} {
		if _, err := reg.Lookup(v); !errors.Is(err, ErrStackUnavailable) {
			t.Fatalf("Lookup(%s) error = %v, want ErrStackUnavailable", v, err)
		}
	}
}
