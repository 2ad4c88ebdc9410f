package market

import "testing"

func TestUSDToCrypto_SOL(t *testing.T) {
	conv := NewPriceConverter(100)
	got, err := conv.USDToCrypto(900, "SOL")
	if err != nil {
		t.Fatal(err)
	}
	if got != 9.0 {
		t.Errorf("900 USD = %v SOL, want 9.0", got)
	}
}

func TestUSDToCrypto_SOLFractional(t *testing.T) {
	conv := NewPriceConverter(150)
	got, err := conv.USDToCrypto(100, "sol")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0.666666667 {
		t.Errorf("100 USD at 150 = %v SOL, want 0.666666667", got)
	}
}

func TestUSDToCrypto_USDCIsPegged(t *testing.T) {
	conv := NewPriceConverter(100)
	got, err := conv.USDToCrypto(123.45, "USDC")
	if err != nil {
		t.Fatal(err)
	}
	if got != 123.45 {
		t.Errorf("USDC = %v, want 123.45", got)
	}
}

func TestUSDToCrypto_UnknownCurrency(t *testing.T) {
	conv := NewPriceConverter(100)
	if _, err := conv.USDToCrypto(1, "DOGE"); err == nil {
		t.Error("unknown currency accepted")
	}
}

func TestNewPriceConverter_InvalidRateFallsBack(t *testing.T) {
	conv := NewPriceConverter(0)
	got, _ := conv.USDToCrypto(100, "SOL")
	if got != 1.0 {
		t.Errorf("fallback rate: 100 USD = %v SOL, want 1.0 at rate 100", got)
	}
}
