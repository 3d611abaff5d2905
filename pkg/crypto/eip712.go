package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator input.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain is the off-chain domain used by a local node.
func DefaultDomain() Domain {
	return Domain{
		Name:    "HyperCLOB",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// OrderIntent is what a trader signs before submitting an order. The
// signature travels in the order's auxiliary payload.
type OrderIntent struct {
	Market   common.Address
	Side     uint8 // 1 = bid, 2 = ask
	Price    *big.Int
	Quantity *big.Int
	Nonce    *big.Int
	Trader   common.Address
}

// SettlementIntent is what the operator signs for each committed outcome.
type SettlementIntent struct {
	Market    common.Address
	OrderID   string
	Trader    common.Address
	Side      uint8
	Price     *big.Int
	Filled    *big.Int
	Remaining *big.Int
	Fills     uint64
	Seq       uint64
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var orderType = []apitypes.Type{
	{Name: "market", Type: "address"},
	{Name: "side", Type: "uint8"},
	{Name: "price", Type: "uint256"},
	{Name: "quantity", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "trader", Type: "address"},
}

var settlementType = []apitypes.Type{
	{Name: "market", Type: "address"},
	{Name: "orderId", Type: "string"},
	{Name: "trader", Type: "address"},
	{Name: "side", Type: "uint8"},
	{Name: "price", Type: "uint256"},
	{Name: "filled", Type: "uint256"},
	{Name: "remaining", Type: "uint256"},
	{Name: "fills", Type: "uint64"},
	{Name: "seq", Type: "uint64"},
}

// TypedHasher computes EIP-712 digests for one domain.
type TypedHasher struct {
	domain Domain
}

func NewTypedHasher(domain Domain) *TypedHasher {
	if domain.ChainID == nil {
		domain.ChainID = new(big.Int)
	}
	return &TypedHasher{domain: domain}
}

func (h *TypedHasher) Domain() Domain { return h.domain }

// hash returns keccak256("\x19\x01" || domainSeparator || structHash).
func (h *TypedHasher) hash(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) ([]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              h.domain.Name,
			Version:           h.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(h.domain.ChainID),
			VerifyingContract: h.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}

	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(primary, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", primary, err)
	}

	raw := make([]byte, 0, 2+len(sep)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, sep...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (h *TypedHasher) HashOrder(o *OrderIntent) ([]byte, error) {
	return h.hash("Order", orderType, apitypes.TypedDataMessage{
		"market":   o.Market.Hex(),
		"side":     fmt.Sprintf("%d", o.Side),
		"price":    bigString(o.Price),
		"quantity": bigString(o.Quantity),
		"nonce":    bigString(o.Nonce),
		"trader":   o.Trader.Hex(),
	})
}

func (h *TypedHasher) HashSettlement(s *SettlementIntent) ([]byte, error) {
	return h.hash("Settlement", settlementType, apitypes.TypedDataMessage{
		"market":    s.Market.Hex(),
		"orderId":   s.OrderID,
		"trader":    s.Trader.Hex(),
		"side":      fmt.Sprintf("%d", s.Side),
		"price":     bigString(s.Price),
		"filled":    bigString(s.Filled),
		"remaining": bigString(s.Remaining),
		"fills":     fmt.Sprintf("%d", s.Fills),
		"seq":       fmt.Sprintf("%d", s.Seq),
	})
}

// SignOrder signs an order intent with the trader's key.
func (h *TypedHasher) SignOrder(signer *Signer, o *OrderIntent) ([]byte, error) {
	digest, err := h.HashOrder(o)
	if err != nil {
		return nil, err
	}
	return signer.Sign(digest)
}

// RecoverOrderSigner returns the address that signed o.
func (h *TypedHasher) RecoverOrderSigner(o *OrderIntent, signature []byte) (common.Address, error) {
	digest, err := h.HashOrder(o)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(digest, signature)
}

// SignSettlement signs a settlement intent with the operator key.
func (h *TypedHasher) SignSettlement(signer *Signer, s *SettlementIntent) ([]byte, error) {
	digest, err := h.HashSettlement(s)
	if err != nil {
		return nil, err
	}
	return signer.Sign(digest)
}

func (h *TypedHasher) RecoverSettlementSigner(s *SettlementIntent, signature []byte) (common.Address, error) {
	digest, err := h.HashSettlement(s)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(digest, signature)
}
