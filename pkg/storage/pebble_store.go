package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/book"
)

// ErrNotFound is returned by point lookups for missing keys.
var ErrNotFound = errors.New("not found")

// PebbleStore journals committed outcomes and undelivered settlement
// reports. It is safe for concurrent use.
type PebbleStore struct {
	db *pebble.DB

	// mu serialises SaveOutcome, which reads order records and the sequence
	// watermark before rewriting them.
	mu sync.Mutex
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// NewMemStore opens a store backed by an in-memory filesystem.
func NewMemStore() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// SaveOutcome writes the fills of out, the incoming order's record and the
// updated records of every maker it traded against in one batch. Outcomes
// of one market may arrive out of commit order; records only move forward.
func (s *PebbleStore) SaveOutcome(out book.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	for _, rec := range fillRecords(out) {
		if err := s.stage(b, fillKey(rec.Market, rec.Seq, rec.Index), rec); err != nil {
			return err
		}
	}
	for _, f := range out.Fills {
		if err := s.stageMakerFill(b, out.Market, f, out.Seq); err != nil {
			return err
		}
	}
	if err := s.stageOrder(b, out); err != nil {
		return err
	}

	last, err := s.LastSeq(out.Market)
	if err != nil {
		return err
	}
	if out.Seq > last {
		if err := s.stage(b, seqKey(out.Market), out.Seq); err != nil {
			return err
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save outcome %d: %w", out.Seq, err)
	}
	return nil
}

func (s *PebbleStore) stageOrder(b *pebble.Batch, out book.Outcome) error {
	rec := orderRecord(out)
	var prev OrderRecord
	err := s.get(orderKey(rec.Market, rec.ID), &prev)
	switch {
	case err == nil && prev.UpdatedSeq > out.Seq:
		// A fill against this order was journaled first.
		rec.Remaining, rec.Status, rec.UpdatedSeq = prev.Remaining, prev.Status, prev.UpdatedSeq
		rec.Filled = subDecimal(rec.Quantity, rec.Remaining)
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}
	return s.stage(b, orderKey(rec.Market, rec.ID), rec)
}

func (s *PebbleStore) stageMakerFill(b *pebble.Batch, market common.Address, f book.Fill, seq uint64) error {
	key := orderKey(market, f.Maker.ID().String())
	var rec OrderRecord
	err := s.get(key, &rec)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = makerRecord(market, f, seq)
	case err != nil:
		return err
	case rec.UpdatedSeq > seq:
		return nil
	default:
		applyFill(&rec, f, seq)
	}
	return s.stage(b, key, rec)
}

func (s *PebbleStore) stage(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := b.Set(key, data, nil); err != nil {
		return fmt.Errorf("failed to stage %s: %w", key, err)
	}
	return nil
}

// LastSeq returns the highest commit sequence journaled for market, counting
// both saved outcomes and unsettled reports. A book reopened for market
// must start after it.
func (s *PebbleStore) LastSeq(market common.Address) (uint64, error) {
	var last uint64
	if err := s.get(seqKey(market), &last); err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	for _, prefix := range [][]byte{fillPrefix(market), unsettledPrefix(market)} {
		seq, err := s.lastRecordSeq(prefix)
		if err != nil {
			return 0, err
		}
		if seq > last {
			last = seq
		}
	}
	return last, nil
}

func (s *PebbleStore) lastRecordSeq(prefix []byte) (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	var head struct {
		Seq uint64 `json:"seq"`
	}
	if err := json.Unmarshal(iter.Value(), &head); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s: %w", iter.Key(), err)
	}
	return head.Seq, nil
}

// RestingOrders returns the orders of market that still had quantity on the
// book, in the order they were admitted.
func (s *PebbleStore) RestingOrders(market common.Address) ([]OrderRecord, error) {
	prefix := orderPrefix(market)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []OrderRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec OrderRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if rec.Resting() {
			out = append(out, rec)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// RecentFills returns up to limit fills for market, newest first.
func (s *PebbleStore) RecentFills(market common.Address, limit int) ([]FillRecord, error) {
	prefix := fillPrefix(market)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var fills []FillRecord
	for iter.Last(); iter.Valid() && (limit <= 0 || len(fills) < limit); iter.Prev() {
		var rec FillRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // skip corrupt entries
		}
		fills = append(fills, rec)
	}
	return fills, iter.Error()
}

// LoadOrder returns the journaled record of an order.
func (s *PebbleStore) LoadOrder(market common.Address, orderID string) (OrderRecord, error) {
	var rec OrderRecord
	if err := s.get(orderKey(market, orderID), &rec); err != nil {
		return OrderRecord{}, errors.Wrapf(err, "order %s", orderID)
	}
	return rec, nil
}

// SaveUnsettled stores (or overwrites) a failed delivery.
func (s *PebbleStore) SaveUnsettled(rec UnsettledRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal unsettled report: %w", err)
	}
	if err := s.db.Set(unsettledKey(rec.Market, rec.Seq), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save unsettled report: %w", err)
	}
	return nil
}

// Unsettled lists failed deliveries for market in commit order.
func (s *PebbleStore) Unsettled(market common.Address) ([]UnsettledRecord, error) {
	return s.scanUnsettled(unsettledPrefix(market))
}

// AllUnsettled lists failed deliveries across every market.
func (s *PebbleStore) AllUnsettled() ([]UnsettledRecord, error) {
	return s.scanUnsettled([]byte(prefixUnsettled))
}

func (s *PebbleStore) scanUnsettled(prefix []byte) ([]UnsettledRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []UnsettledRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec UnsettledRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

func (s *PebbleStore) DeleteUnsettled(market common.Address, seq uint64) error {
	if err := s.db.Delete(unsettledKey(market, seq), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete unsettled report: %w", err)
	}
	return nil
}

func (s *PebbleStore) get(key []byte, v any) error {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}
