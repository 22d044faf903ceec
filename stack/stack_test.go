package stack

import (
	"errors"
	"strings"
	"testing"
)

func TestParseVariant(t *testing.T) {
	cases := map[string]Variant{
		"ns3":     VariantNative,
		"linux":   VariantLinux,
		"FreeBSD": VariantFreeBSD,
		" linux ": VariantLinux,
	}
	for in, want := range cases {
		got, err := ParseVariant(in)
		if err != nil || got != want {
			t.Errorf("ParseVariant(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseVariant("windows"); !errors.Is(err, ErrUnknownVariant) || !errors.Is(err, ErrStackUnavailable) {
		t.Fatalf("ParseVariant(windows) error = %v, want ErrUnknownVariant and ErrStackUnavailable", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(NativeFactory())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.Lookup(VariantNative); err != nil {
		t.Fatalf("Lookup(native): %v", err)
	}
	_, err = reg.Lookup(VariantLinux)
	if !errors.Is(err, ErrStackUnavailable) {
		t.Fatalf("Lookup(linux) error = %v, want ErrStackUnavailable", err)
	}
	if !strings.Contains(err.Error(), "available: [ns3]") {
		t.Fatalf("Lookup(linux) error %q does not list the available variants", err)
	}

	if err := reg.Register(libraryFactory(VariantFreeBSD, "libfreebsd.so")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got := reg.Variants()
	if len(got) != 2 || got[0] != VariantFreeBSD || got[1] != VariantNative {
		t.Fatalf("Variants() = %v, want [freebsd ns3]", got)
	}
}

func TestRegistryRejectsIncompleteFactory(t *testing.T) {
	if _, err := NewRegistry(Factory{Variant: "broken"}); err == nil {
		t.Fatalf("expected error for factory without constructor")
	}
	reg, _ := NewRegistry()
	if err := reg.Register(Factory{New: NativeFactory().New}); err == nil {
		t.Fatalf("expected error for factory without variant")
	}
}

func TestDefaultRegistryHasNative(t *testing.T) {
	if _, err := DefaultRegistry().Lookup(VariantNative); err != nil {
		t.Fatalf("native stack missing from default registry: %v", err)
	}
}

func TestLibraryFactoryRequiresSharedObject(t *testing.T) {
	f := libraryFactory(VariantLinux, "liblinux.a")
	if _, err := f.New(); !errors.Is(err, ErrStackUnavailable) {
		t.Fatalf("New() error = %v, want ErrStackUnavailable", err)
	}
}
