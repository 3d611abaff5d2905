package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	fill:<market>:<seq>:<idx>  -> FillRecord
//	ord:<market>:<orderID>     -> OrderRecord
//	uns:<market>:<seq>         -> UnsettledRecord
//	seq:<market>               -> highest journaled commit sequence
//
// Sequence numbers are zero-padded so lexicographic order is commit order.
// They stay unique across restarts only because books are reopened with
// the sequence from LastSeq.
const (
	prefixFill      = "fill:"
	prefixOrder     = "ord:"
	prefixUnsettled = "uns:"
	prefixSeq       = "seq:"
)

func fillKey(market common.Address, seq uint64, idx int) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%04d", prefixFill, market.Hex(), seq, idx))
}

func fillPrefix(market common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixFill, market.Hex()))
}

func orderKey(market common.Address, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOrder, market.Hex(), orderID))
}

func orderPrefix(market common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, market.Hex()))
}

func seqKey(market common.Address) []byte {
	return []byte(prefixSeq + market.Hex())
}

func unsettledKey(market common.Address, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixUnsettled, market.Hex(), seq))
}

func unsettledPrefix(market common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixUnsettled, market.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
