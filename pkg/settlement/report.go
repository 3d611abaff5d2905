package settlement

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperclob/pkg/book"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

// FillReport is one execution inside a Report.
type FillReport struct {
	MakerOrder     string         `json:"maker_order"`
	Maker          common.Address `json:"maker"`
	Price          string         `json:"price"`
	Quantity       string         `json:"quantity"`
	MakerRemaining string         `json:"maker_remaining"`
}

// Report is the wire form of a committed outcome. Numeric fields are
// decimal strings so 256-bit values survive any JSON decoder.
type Report struct {
	Market      common.Address `json:"market"`
	OrderID     string         `json:"order_id"`
	Trader      common.Address `json:"trader"`
	Side        string         `json:"side"`
	Price       string         `json:"price"`
	Quantity    string         `json:"quantity"`
	Filled      string         `json:"filled"`
	Remaining   string         `json:"remaining"`
	Rested      bool           `json:"rested"`
	Fills       []FillReport   `json:"fills"`
	Bids        int            `json:"bids"`
	Asks        int            `json:"asks"`
	Seq         uint64         `json:"seq"`
	CommittedAt time.Time      `json:"committed_at"`
	Aux         hexutil.Bytes  `json:"aux,omitempty"`

	Operator  *common.Address `json:"operator,omitempty"`
	Signature hexutil.Bytes   `json:"signature,omitempty"`
}

func NewReport(out book.Outcome) *Report {
	r := &Report{
		Market:      out.Market,
		OrderID:     out.Order.ID().String(),
		Trader:      out.Order.Trader(),
		Side:        out.Order.Side().String(),
		Price:       out.Order.Price().Dec(),
		Quantity:    out.Order.Quantity().Dec(),
		Filled:      out.Filled().Dec(),
		Remaining:   out.Remaining.Dec(),
		Rested:      out.Rested,
		Fills:       make([]FillReport, 0, len(out.Fills)),
		Bids:        out.Bids,
		Asks:        out.Asks,
		Seq:         out.Seq,
		CommittedAt: out.CommittedAt.UTC(),
	}
	if aux := out.Order.Aux(); len(aux) > 0 {
		r.Aux = aux
	}
	for _, f := range out.Fills {
		r.Fills = append(r.Fills, FillReport{
			MakerOrder:     f.Maker.ID().String(),
			Maker:          f.Maker.Trader(),
			Price:          f.Price.Dec(),
			Quantity:       f.Quantity.Dec(),
			MakerRemaining: f.MakerRemaining.Dec(),
		})
	}
	return r
}

// Intent is the typed-data view of r that the operator signs.
func (r *Report) Intent() (*crypto.SettlementIntent, error) {
	side, err := book.ParseSide(r.Side)
	if err != nil {
		return nil, err
	}
	price, err := decimal("price", r.Price)
	if err != nil {
		return nil, err
	}
	filled, err := decimal("filled", r.Filled)
	if err != nil {
		return nil, err
	}
	remaining, err := decimal("remaining", r.Remaining)
	if err != nil {
		return nil, err
	}
	return &crypto.SettlementIntent{
		Market:    r.Market,
		OrderID:   r.OrderID,
		Trader:    r.Trader,
		Side:      uint8(side),
		Price:     price,
		Filled:    filled,
		Remaining: remaining,
		Fills:     uint64(len(r.Fills)),
		Seq:       r.Seq,
	}, nil
}

// Sign attaches the operator's EIP-712 signature.
func (r *Report) Sign(h *crypto.TypedHasher, signer *crypto.Signer) error {
	intent, err := r.Intent()
	if err != nil {
		return err
	}
	sig, err := h.SignSettlement(signer, intent)
	if err != nil {
		return fmt.Errorf("failed to sign report %d: %w", r.Seq, err)
	}
	op := signer.Address()
	r.Operator = &op
	r.Signature = sig
	return nil
}

// Verify checks the signature against the claimed operator.
func (r *Report) Verify(h *crypto.TypedHasher) (bool, error) {
	if r.Operator == nil || len(r.Signature) == 0 {
		return false, nil
	}
	intent, err := r.Intent()
	if err != nil {
		return false, err
	}
	got, err := h.RecoverSettlementSigner(intent, r.Signature)
	if err != nil {
		return false, err
	}
	return got == *r.Operator, nil
}

func (r *Report) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report %d: %w", r.Seq, err)
	}
	return data, nil
}

func decimal(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return v, nil
}
