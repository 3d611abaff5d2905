package settlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/pkg/book"
	"github.com/uhyunpark/hyperclob/pkg/storage"
)

// Journal persists reports whose delivery failed.
type Journal interface {
	SaveUnsettled(rec storage.UnsettledRecord) error
	AllUnsettled() ([]storage.UnsettledRecord, error)
	DeleteUnsettled(market common.Address, seq uint64) error
}

// Recorder wraps a Sender and journals every failed delivery. The failure
// is still returned to the caller; Retry redelivers journaled reports on
// operator request.
type Recorder struct {
	next    Sender
	journal Journal
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewRecorder(next Sender, journal Journal, log *zap.SugaredLogger) *Recorder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Recorder{next: next, journal: journal, log: log, now: time.Now}
}

func (r *Recorder) Send(ctx context.Context, endpoint string, rep *Report) error {
	err := r.next.Send(ctx, endpoint, rep)
	if err == nil {
		return nil
	}
	if jerr := r.record(endpoint, rep, err, 1); jerr != nil {
		return errors.CombineErrors(err, jerr)
	}
	return err
}

func (r *Recorder) Settle(ctx context.Context, endpoint string, out book.Outcome) error {
	return Settle(ctx, r, endpoint, out)
}

func (r *Recorder) record(endpoint string, rep *Report, cause error, attempts int) error {
	data, err := rep.Marshal()
	if err != nil {
		return err
	}
	rec := storage.UnsettledRecord{
		Market:   rep.Market,
		Seq:      rep.Seq,
		OrderID:  rep.OrderID,
		Endpoint: endpoint,
		Error:    cause.Error(),
		Attempts: attempts,
		FailedAt: r.now().UTC(),
		Report:   data,
	}
	if err := r.journal.SaveUnsettled(rec); err != nil {
		return err
	}
	r.log.Warnw("settlement_journaled",
		"market", rep.Market.Hex(),
		"seq", rep.Seq,
		"endpoint", endpoint,
		"attempts", attempts,
		"err", cause)
	return nil
}

// RetryResult summarises one Retry pass.
type RetryResult struct {
	Delivered int
	Failed    int
}

// Retry redelivers every journaled report. When endpoint is empty each
// report goes back to the endpoint it originally failed on. Delivered
// reports are removed from the journal; failures stay with their attempt
// count bumped.
func (r *Recorder) Retry(ctx context.Context, endpoint string) (RetryResult, error) {
	var res RetryResult
	recs, err := r.journal.AllUnsettled()
	if err != nil {
		return res, err
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var rep Report
		if err := json.Unmarshal(rec.Report, &rep); err != nil {
			r.log.Warnw("unsettled_report_corrupt", "market", rec.Market.Hex(), "seq", rec.Seq, "err", err)
			res.Failed++
			continue
		}
		target := endpoint
		if target == "" {
			target = rec.Endpoint
		}

		if err := r.next.Send(ctx, target, &rep); err != nil {
			res.Failed++
			if jerr := r.record(target, &rep, err, rec.Attempts+1); jerr != nil {
				return res, jerr
			}
			continue
		}
		if err := r.journal.DeleteUnsettled(rec.Market, rec.Seq); err != nil {
			return res, err
		}
		res.Delivered++
		r.log.Infow("settlement_retried", "market", rec.Market.Hex(), "seq", rec.Seq, "endpoint", target)
	}
	return res, nil
}
