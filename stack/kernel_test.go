//go:build kernelstack

package stack

import "testing"

func TestDefaultRegistryWithKernelStacks(t *testing.T) {
	reg := DefaultRegistry()
	for v, lib := range map[Variant]string{VariantLinux: LinuxLibrary, VariantFreeBSD: FreeBSDLibrary} {
		f, err := reg.Lookup(v)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", v, err)
		}
		if f.Library != lib {
			t.Fatalf("%s library = %q, want %q", v, f.Library, lib)
		}
	}
}
