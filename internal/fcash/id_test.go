package fcash

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		currency  uint16
		maturity  uint64
		assetType uint8
	}{
		{1, 1_700_000_000, AssetTypeFCash},
		{2, 1_707_776_000, AssetTypeFCash},
		{65535, 1, 255},
		{0, 0, 0},
		{3, uint64(1)<<40 - 1, AssetTypeFCash},
	}

	for _, tc := range cases {
		id, err := EncodeID(tc.currency, tc.maturity, tc.assetType)
		if err != nil {
			t.Fatalf("encode (%d, %d, %d): %v", tc.currency, tc.maturity, tc.assetType, err)
		}

		currency, maturity, assetType, err := DecodeID(id)
		if err != nil {
			t.Fatalf("decode %s: %v", id, err)
		}
		if currency != tc.currency || maturity != tc.maturity || assetType != tc.assetType {
			t.Errorf("round trip (%d, %d, %d) -> (%d, %d, %d)",
				tc.currency, tc.maturity, tc.assetType, currency, maturity, assetType)
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	id, err := EncodeID(2, 1_700_000_000, AssetTypeFCash)
	if err != nil {
		t.Fatal(err)
	}

	want := uint64(2)<<48 | uint64(1_700_000_000)<<8 | uint64(AssetTypeFCash)
	if id.Uint64() != want {
		t.Errorf("id = %d, want %d", id.Uint64(), want)
	}
}

func TestEncodeRejectsOversizedMaturity(t *testing.T) {
	if _, err := EncodeID(1, uint64(1)<<40, AssetTypeFCash); err == nil {
		t.Error("expected error for maturity above 40 bits")
	}
}

func TestDecodeRejectsWideIDs(t *testing.T) {
	wide := new(uint256.Int).Lsh(uint256.NewInt(1), 64)
	if _, _, _, err := DecodeID(wide); err == nil {
		t.Error("expected error for id above 64 bits")
	}
	if _, _, _, err := DecodeID(nil); err == nil {
		t.Error("expected error for nil id")
	}
}

func TestDistinctPairsDistinctIDs(t *testing.T) {
	a, _ := FCashID(2, 1_700_000_000)
	b, _ := FCashID(2, 1_700_000_001)
	c, _ := FCashID(3, 1_700_000_000)

	if a.Eq(b) || a.Eq(c) || b.Eq(c) {
		t.Error("distinct (currency, maturity) pairs must yield distinct ids")
	}
}
