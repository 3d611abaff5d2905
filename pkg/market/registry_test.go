package market

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperclob/pkg/book"
)

func TestRegistry(t *testing.T) {
	var seen []uint64
	r := NewRegistry(book.WithObserver(func(out book.Outcome) { seen = append(seen, out.Seq) }))

	a := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	b := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	bookA, err := r.Register(a)
	require.NoError(t, err)
	_, err = r.Register(b)
	require.NoError(t, err)

	_, err = r.Register(a)
	assert.True(t, errors.Is(err, ErrMarketExists))

	assert.Equal(t, 2, r.Count())
	assert.True(t, r.Exists(a))
	assert.Equal(t, []common.Address{b, a}, r.List(), "ordered by address")

	got, err := r.Get(a)
	require.NoError(t, err)
	assert.Same(t, bookA, got)
	assert.Equal(t, a, got.Market())

	_, err = r.Get(common.HexToAddress("0x01"))
	assert.True(t, errors.Is(err, ErrMarketNotFound))
	assert.False(t, r.Exists(common.HexToAddress("0x01")))

	o := book.NewOrder(common.HexToAddress("0x05"), a, book.Bid, uint256.NewInt(10), uint256.NewInt(1), time.Now(), nil)
	_, err = got.Place(o)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, seen, "registry options reach every book")

	books := r.Books()
	require.Len(t, books, 2)
	assert.Equal(t, b, books[0].Market())
}

func TestRegistryBooksAreIndependent(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Register(common.HexToAddress("0x0a"))
	b, _ := r.Register(common.HexToAddress("0x0b"))

	o := book.NewOrder(common.HexToAddress("0x05"), a.Market(), book.Ask, uint256.NewInt(10), uint256.NewInt(1), time.Now(), nil)
	_, err := a.Place(o)
	require.NoError(t, err)

	_, asks := a.Depth()
	assert.Equal(t, 1, asks)
	_, asks = b.Depth()
	assert.Equal(t, 0, asks)

	_, err = b.Place(o)
	assert.True(t, book.IsValidation(err), "order for market a rejected by book b")
}
