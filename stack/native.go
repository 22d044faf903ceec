package stack

import (
	"fmt"

	"github.com/signalsfoundry/dumbbell-simulator/core"
)

// NativeFactory returns the factory of the simulator's built-in stack.
func NativeFactory() Factory {
	return Factory{
		Variant: VariantNative,
		New: func() (Installer, error) {
			return attachInstaller{variant: VariantNative}, nil
		},
	}
}

// attachInstaller records the variant (and library, for kernel stacks) on
// each node. It is the whole of a stack install in this simulator: packet
// processing itself is out of scope.
type attachInstaller struct {
	variant Variant
	library string
}

func (a attachInstaller) Install(node *core.Node) error {
	if node == nil {
		return fmt.Errorf("%w: nil node", ErrStackInstall)
	}
	if node.HasStack() {
		return fmt.Errorf("%w: node %s already has stack %s", ErrStackInstall, node.Name, node.Stack.Variant)
	}
	node.AttachStack(string(a.variant), a.library)
	return nil
}

func (a attachInstaller) Teardown(node *core.Node) error {
	if node == nil || !node.HasStack() {
		return nil
	}
	if node.Stack.Variant != string(a.variant) {
		return fmt.Errorf("stack: node %s runs %s, not %s", node.Name, node.Stack.Variant, a.variant)
	}
	node.DetachStack()
	return nil
}
