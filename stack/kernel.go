//go:build kernelstack

package stack

// Shared objects the kernel stacks are loaded from.
const (
	LinuxLibrary   = "liblinux.so"
	FreeBSDLibrary = "libfreebsd.so"
)

func kernelFactories() []Factory {
	return []Factory{
		libraryFactory(VariantLinux, LinuxLibrary),
		libraryFactory(VariantFreeBSD, FreeBSDLibrary),
	}
}
