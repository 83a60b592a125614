package factory_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ckoopmann/wrapped-fcash/internal/event"
	"github.com/ckoopmann/wrapped-fcash/internal/factory"
	"github.com/ckoopmann/wrapped-fcash/internal/testutil"
)

func TestDeployMatchesComputedAddress(t *testing.T) {
	env := testutil.NewEnv(t)

	want := env.Factory.ComputeAddress(testutil.DAICurrency, env.MaturityShort)
	v, created, err := env.Factory.DeployWrapper(testutil.DAICurrency, env.MaturityShort)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first deploy must report created")
	}
	if v.Address() != want {
		t.Errorf("vault at %s, computed %s", v.Address().Hex(), want.Hex())
	}
}

func TestDeployIdempotent(t *testing.T) {
	env := testutil.NewEnv(t)

	first, created, err := env.Factory.DeployWrapper(testutil.DAICurrency, env.MaturityShort)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("first deploy must report created")
	}

	second, created, err := env.Factory.DeployWrapper(testutil.DAICurrency, env.MaturityShort)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second deploy must not report created")
	}
	if first != second {
		t.Error("idempotent deploy must return the same vault")
	}

	if got := env.Sink.ByType(event.TypeWrapperDeployed); len(got) != 1 {
		t.Errorf("WrapperDeployed events = %d, want 1", len(got))
	}
}

func TestDeployRejectsUnknownCurrency(t *testing.T) {
	env := testutil.NewEnv(t)

	_, _, err := env.Factory.DeployWrapper(99, env.MaturityShort)
	if !errors.Is(err, factory.ErrInvalidCurrency) {
		t.Fatalf("err = %v, want ErrInvalidCurrency", err)
	}
	if got := env.Sink.ByType(event.TypeWrapperDeployed); len(got) != 0 {
		t.Errorf("rejected deploy emitted %d events", len(got))
	}
}

func TestDeployRejectsInactiveMaturity(t *testing.T) {
	env := testutil.NewEnv(t)

	_, _, err := env.Factory.DeployWrapper(testutil.DAICurrency, env.MaturityLong+86400*720)
	if !errors.Is(err, factory.ErrInvalidMaturity) {
		t.Fatalf("err = %v, want ErrInvalidMaturity", err)
	}
}

func TestVaultNameAndSymbol(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)

	wantName := fmt.Sprintf("Wrapped fDAI @ %d", env.MaturityShort)
	if v.Name() != wantName {
		t.Errorf("name = %q, want %q", v.Name(), wantName)
	}
	wantSymbol := fmt.Sprintf("wfDAI:%d", env.MaturityShort)
	if v.Symbol() != wantSymbol {
		t.Errorf("symbol = %q, want %q", v.Symbol(), wantSymbol)
	}
}

func TestDistinctPairsDistinctAddresses(t *testing.T) {
	env := testutil.NewEnv(t)

	addrs := map[string]bool{
		env.Factory.ComputeAddress(testutil.DAICurrency, env.MaturityShort).Hex():  true,
		env.Factory.ComputeAddress(testutil.DAICurrency, env.MaturityLong).Hex():   true,
		env.Factory.ComputeAddress(testutil.USDCCurrency, env.MaturityShort).Hex(): true,
		env.Factory.ComputeAddress(testutil.USDCCurrency, env.MaturityLong).Hex():  true,
	}
	if len(addrs) != 4 {
		t.Errorf("got %d distinct addresses, want 4", len(addrs))
	}
}

func TestWrapperLookups(t *testing.T) {
	env := testutil.NewEnv(t)
	v := env.DeployWrapper(t, testutil.DAICurrency, env.MaturityShort)

	if got, ok := env.Factory.Wrapper(testutil.DAICurrency, env.MaturityShort); !ok || got != v {
		t.Error("Wrapper lookup by pair failed")
	}
	if got, ok := env.Factory.WrapperAt(v.Address()); !ok || got != v {
		t.Error("WrapperAt lookup by address failed")
	}
	if _, ok := env.Factory.Wrapper(testutil.USDCCurrency, env.MaturityShort); ok {
		t.Error("undeployed pair must not resolve")
	}
	if got := env.Factory.Wrappers(); len(got) != 1 {
		t.Errorf("Wrappers() = %d entries, want 1", len(got))
	}
}
