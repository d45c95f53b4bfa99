package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Well-known test vector key (hardhat account #0).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner("0x"+testKey, 137, "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	want := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	if got := s.Address().Hex(); got != want {
		t.Fatalf("address: got %s want %s", got, want)
	}
}

func TestSignOrderDeterministic(t *testing.T) {
	s, err := NewSigner(testKey, 137, "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	addr := s.Address().Hex()
	order := OrderPayload{
		Salt:        "12345",
		Maker:       addr,
		Signer:      addr,
		Taker:       "0x0000000000000000000000000000000000000000",
		TokenID:     "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount: "10000000",
		TakerAmount: "12500000",
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
		Side:        OrderSideBuy,
	}
	a, err := s.SignOrder(order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	b, _ := s.SignOrder(order)
	if a != b {
		t.Fatalf("signature not deterministic: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "0x") || len(a) != 2+130 {
		t.Fatalf("signature shape: got %q", a)
	}
	if v := a[len(a)-2:]; v != "1b" && v != "1c" {
		t.Fatalf("recovery byte: got %s want 1b or 1c", v)
	}

	order.Side = OrderSideSell
	c, _ := s.SignOrder(order)
	if c == a {
		t.Fatal("changing side must change the signature")
	}
}

func TestSignOrderRejectsBadFields(t *testing.T) {
	s, _ := NewSigner(testKey, 137, "")
	addr := s.Address().Hex()
	base := OrderPayload{
		Salt: "1", Maker: addr, Signer: addr, Taker: addr, TokenID: "1",
		MakerAmount: "1", TakerAmount: "1", Expiration: "0", Nonce: "0", FeeRateBps: "0",
	}
	bad := base
	bad.TokenID = "abc"
	if _, err := s.SignOrder(bad); err == nil {
		t.Fatal("expected error for non-numeric token id")
	}
	bad = base
	bad.Maker = "nope"
	if _, err := s.SignOrder(bad); err == nil {
		t.Fatal("expected error for invalid maker address")
	}
}

func TestSignAuthMessageVariesWithTimestamp(t *testing.T) {
	s, _ := NewSigner(testKey, 137, "")
	a, err := s.SignAuthMessage(1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	b, _ := s.SignAuthMessage(1700000001, 0)
	if a == b {
		t.Fatal("signatures for different timestamps must differ")
	}
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	if _, err := NewSigner("zz", 137, ""); err == nil {
		t.Fatal("expected error for invalid key")
	}
	if _, err := NewSigner(testKey, 137, "not-an-address"); err == nil {
		t.Fatal("expected error for invalid exchange")
	}
}

func TestL2HeadersAt(t *testing.T) {
	creds := APICreds{Key: "key", Secret: "c2VjcmV0", Passphrase: "pass"}
	h := creds.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	if h["POLY_TIMESTAMP"] != "1700000000" {
		t.Fatalf("timestamp: got %q", h["POLY_TIMESTAMP"])
	}
	if h["POLY_API_KEY"] != "key" || h["POLY_PASSPHRASE"] != "pass" || h["POLY_ADDRESS"] != "0xabc" {
		t.Fatalf("headers: got %v", h)
	}
	again := creds.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	if h["POLY_SIGNATURE"] != again["POLY_SIGNATURE"] {
		t.Fatal("signature not deterministic")
	}
	other := creds.L2HeadersAt("0xabc", "POST", "/order", `{"a":2}`, 1700000000)
	if h["POLY_SIGNATURE"] == other["POLY_SIGNATURE"] {
		t.Fatal("body must be part of the signature")
	}
}

func TestAPICredsStringRedacts(t *testing.T) {
	s := APICreds{Key: "abcdefgh", Secret: "supersecret"}.String()
	if strings.Contains(s, "supersecret") || strings.Contains(s, "abcdefgh") {
		t.Fatalf("credentials leaked: %s", s)
	}
}

func TestSealAndResolveKey(t *testing.T) {
	sealed, err := SealKey(testKey, "hunter2")
	if err != nil {
		t.Fatalf("SealKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ResolveKey(KeySource{KeyFile: path, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatalf("ResolveKey: %v", err)
	}
	if got != testKey {
		t.Fatalf("key: got %s want %s", got, testKey)
	}

	if _, err := ResolveKey(KeySource{KeyFile: path, KeyPassword: "wrong"}); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestResolveKeyRaw(t *testing.T) {
	got, err := ResolveKey(KeySource{RawPrivateKey: "0x" + testKey, KeyFile: "/does/not/exist"})
	if err != nil {
		t.Fatalf("ResolveKey: %v", err)
	}
	if got != testKey {
		t.Fatalf("key: got %s want %s", got, testKey)
	}
	if _, err := ResolveKey(KeySource{RawPrivateKey: "abcd"}); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := ResolveKey(KeySource{}); err == nil {
		t.Fatal("expected error when nothing configured")
	}
}
