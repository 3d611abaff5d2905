package market

import (
	"bytes"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/btree"

	"github.com/uhyunpark/hyperclob/pkg/book"
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrMarketExists   = errors.New("market already registered")
)

type entry struct {
	market common.Address
	book   *book.Book
}

func byAddress(a, b entry) bool {
	return bytes.Compare(a.market[:], b.market[:]) < 0
}

// Registry owns one Book per market. Markets are provisioned explicitly;
// there is no implicit creation on lookup.
type Registry struct {
	mu    sync.RWMutex
	books *btree.BTreeG[entry]
	opts  []book.Option
}

// NewRegistry creates an empty registry. opts are applied to every book it
// creates.
func NewRegistry(opts ...book.Option) *Registry {
	return &Registry{
		books: btree.NewBTreeGOptions(byAddress, btree.Options{NoLocks: true}),
		opts:  opts,
	}
}

// Register creates the book for market. Extra options apply to this book
// only, after the registry-wide ones.
func (r *Registry) Register(market common.Address, opts ...book.Option) (*book.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.books.Get(entry{market: market}); ok {
		return nil, errors.Wrapf(ErrMarketExists, "%s", market.Hex())
	}
	all := make([]book.Option, 0, len(r.opts)+len(opts))
	all = append(all, r.opts...)
	all = append(all, opts...)

	b := book.New(market, all...)
	r.books.Set(entry{market: market, book: b})
	return b, nil
}

func (r *Registry) Get(market common.Address) (*book.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.books.Get(entry{market: market})
	if !ok {
		return nil, errors.Wrapf(ErrMarketNotFound, "%s", market.Hex())
	}
	return e.book, nil
}

func (r *Registry) Exists(market common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.books.Get(entry{market: market})
	return ok
}

// List returns registered markets in ascending address order.
func (r *Registry) List() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Address, 0, r.books.Len())
	r.books.Scan(func(e entry) bool {
		out = append(out, e.market)
		return true
	})
	return out
}

// Books returns every book in ascending market order.
func (r *Registry) Books() []*book.Book {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*book.Book, 0, r.books.Len())
	r.books.Scan(func(e entry) bool {
		out = append(out, e.book)
		return true
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.books.Len()
}
