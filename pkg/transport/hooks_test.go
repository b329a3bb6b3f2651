package transport

import (
	"errors"
	"reflect"
	"testing"

	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

func TestMergeHooksChainsCallbacks(t *testing.T) {
	var order []string
	a := Hooks{
		OnConnect:    func(*Conn) { order = append(order, "a.connect") },
		OnCommand:    func(*Conn, wire.Command) { order = append(order, "a.command") },
		OnDisconnect: func(*Conn, error) { order = append(order, "a.disconnect") },
	}
	b := Hooks{
		OnConnect:    func(*Conn) { order = append(order, "b.connect") },
		OnCommand:    func(*Conn, wire.Command) { order = append(order, "b.command") },
		OnDisconnect: func(*Conn, error) { order = append(order, "b.disconnect") },
	}

	merged := MergeHooks(a, b)
	merged.OnConnect(nil)
	merged.OnCommand(nil, wire.Command{Name: "x"})
	merged.OnDisconnect(nil, errors.New("gone"))

	want := []string{
		"a.connect", "b.connect",
		"a.command", "b.command",
		"a.disconnect", "b.disconnect",
	}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("callback order = %v, want %v", order, want)
	}
}

func TestMergeHooksNilSides(t *testing.T) {
	called := false
	a := Hooks{OnConnect: func(*Conn) { called = true }}

	merged := MergeHooks(a, Hooks{})
	merged.OnConnect(nil)
	if !called {
		t.Error("merge with empty right side dropped the callback")
	}
	if merged.OnCommand != nil {
		t.Error("merging two nil callbacks produced a non-nil one")
	}

	called = false
	merged = MergeHooks(Hooks{}, a)
	merged.OnConnect(nil)
	if !called {
		t.Error("merge with empty left side dropped the callback")
	}
}

func TestMergeHooksTransformsDoNotChain(t *testing.T) {
	aCalled, bCalled := false, false
	a := Hooks{
		Encrypt: func(uint64, []byte) ([]byte, error) { aCalled = true; return nil, nil },
	}
	b := Hooks{
		Encrypt: func(uint64, []byte) ([]byte, error) { bCalled = true; return nil, nil },
		Decrypt: func(uint64, []byte) ([]byte, error) { bCalled = true; return nil, nil },
	}

	merged := MergeHooks(a, b)
	if _, err := merged.Encrypt(0, nil); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if !aCalled || bCalled {
		t.Error("Encrypt did not resolve to the first non-nil transform")
	}

	// a has no Decrypt, so b's wins.
	bCalled = false
	if _, err := merged.Decrypt(0, nil); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bCalled {
		t.Error("Decrypt did not fall through to the right side")
	}
}
