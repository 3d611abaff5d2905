package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if len(signer.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(signer.PrivateKeyHex()))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	orig, _ := GenerateKey()

	for _, in := range []string{orig.PrivateKeyHex(), "0x" + orig.PrivateKeyHex()} {
		loaded, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("FromPrivateKeyHex(%q...): %v", in[:4], err)
		}
		if loaded.Address() != orig.Address() {
			t.Errorf("address = %s, want %s", loaded.Address().Hex(), orig.Address().Hex())
		}
	}

	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("accepted malformed key")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	message := []byte("settle 42")

	sig, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("signature length = %d, want %d", len(sig), SignatureLength)
	}

	hash := eth_crypto.Keccak256(message)
	got, err := RecoverAddress(hash, sig)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if got != signer.Address() {
		t.Errorf("recovered = %s, want %s", got.Hex(), signer.Address().Hex())
	}
	if !VerifySignature(signer.Address(), hash, sig) {
		t.Error("signature verification failed")
	}
	if VerifySignature(common.HexToAddress("0x01"), hash, sig) {
		t.Error("signature verified for wrong address")
	}
}

func TestInvalidSignatureInput(t *testing.T) {
	signer, _ := GenerateKey()
	hash := common.BytesToHash([]byte("test")).Bytes()

	if VerifySignature(signer.Address(), hash, []byte{1, 2, 3}) {
		t.Error("short signature verified")
	}
	if VerifySignature(signer.Address(), []byte("short"), make([]byte, SignatureLength)) {
		t.Error("short hash verified")
	}
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("signed a non-32-byte hash")
	}
}

func TestOrderIntentSignature(t *testing.T) {
	trader, _ := GenerateKey()
	h := NewTypedHasher(DefaultDomain())

	intent := &OrderIntent{
		Market:   common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Side:     1,
		Price:    big.NewInt(96),
		Quantity: big.NewInt(5),
		Nonce:    big.NewInt(7),
		Trader:   trader.Address(),
	}
	sig, err := h.SignOrder(trader, intent)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}

	got, err := h.RecoverOrderSigner(intent, sig)
	if err != nil {
		t.Fatalf("RecoverOrderSigner: %v", err)
	}
	if got != trader.Address() {
		t.Errorf("recovered = %s, want %s", got.Hex(), trader.Address().Hex())
	}

	tampered := *intent
	tampered.Quantity = big.NewInt(500)
	got, err = h.RecoverOrderSigner(&tampered, sig)
	if err == nil && got == trader.Address() {
		t.Error("tampered intent recovered the original signer")
	}
}

func TestSettlementDigestDependsOnDomain(t *testing.T) {
	s := &SettlementIntent{
		Market:    common.Address{},
		OrderID:   "0b5c3c3e-7a47-4c61-9f0b-4a8a3d0d2f11",
		Trader:    common.HexToAddress("0x03"),
		Side:      1,
		Price:     big.NewInt(99),
		Filled:    big.NewInt(42),
		Remaining: big.NewInt(0),
		Fills:     3,
		Seq:       11,
	}

	local := NewTypedHasher(DefaultDomain())
	other := DefaultDomain()
	other.ChainID = big.NewInt(1)
	mainnet := NewTypedHasher(other)

	a, err := local.HashSettlement(s)
	if err != nil {
		t.Fatalf("HashSettlement: %v", err)
	}
	b, err := mainnet.HashSettlement(s)
	if err != nil {
		t.Fatalf("HashSettlement: %v", err)
	}
	if len(a) != 32 || common.BytesToHash(a) == common.BytesToHash(b) {
		t.Errorf("digest did not change with chain id")
	}

	operator, _ := GenerateKey()
	sig, err := local.SignSettlement(operator, s)
	if err != nil {
		t.Fatalf("SignSettlement: %v", err)
	}
	got, err := local.RecoverSettlementSigner(s, sig)
	if err != nil || got != operator.Address() {
		t.Errorf("RecoverSettlementSigner = %s, %v", got.Hex(), err)
	}
}

func TestGenerateNonce(t *testing.T) {
	a, err := GenerateNonce()
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	b, _ := GenerateNonce()
	if a == b {
		t.Error("identical nonces")
	}
}
