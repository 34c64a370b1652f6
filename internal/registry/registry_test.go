package registry

import (
	"reflect"
	"strings"
	"testing"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := New[int]()
	if err := reg.Register("Helm", 1); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := reg.Register("helm", 2); err == nil {
		t.Fatal("expected case-insensitive duplicate to be rejected")
	}
	if err := reg.Register("  ", 3); err == nil {
		t.Fatal("expected blank name to be rejected")
	}
	reg.MustRegister("kubectl", 4)

	got, err := reg.Resolve(" HELM ")
	if err != nil || got != 1 {
		t.Fatalf("Resolve = %d, %v", got, err)
	}
	if !reflect.DeepEqual(reg.Names(), []string{"helm", "kubectl"}) {
		t.Fatalf("unexpected names %v", reg.Names())
	}

	_, err = reg.Resolve("nomad")
	if err == nil || !strings.Contains(err.Error(), "helm, kubectl") {
		t.Fatalf("expected error listing known names, got %v", err)
	}
}
