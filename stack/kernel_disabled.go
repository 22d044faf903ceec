//go:build !kernelstack

package stack

func kernelFactories() []Factory { return nil }
