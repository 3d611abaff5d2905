// Package settlement delivers committed outcomes to external systems.
//
// Every gateway is a Sender of Reports and also a book.Settler, so it can be
// plugged into a Book directly or composed with Multi, Signing and Recorder.
package settlement

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/uhyunpark/hyperclob/pkg/book"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

// Sender delivers a report to endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint string, rep *Report) error
}

// Settle adapts any Sender to book.Settler.
func Settle(ctx context.Context, s Sender, endpoint string, out book.Outcome) error {
	return s.Send(ctx, endpoint, NewReport(out))
}

// Func turns a plain function into a Sender and a book.Settler.
type Func func(ctx context.Context, endpoint string, rep *Report) error

func (f Func) Send(ctx context.Context, endpoint string, rep *Report) error {
	return f(ctx, endpoint, rep)
}

func (f Func) Settle(ctx context.Context, endpoint string, out book.Outcome) error {
	return Settle(ctx, f, endpoint, out)
}

// Multi sends each report to every gateway concurrently. It fails if any
// gateway fails; the combined error carries all failures.
type Multi []Sender

func (m Multi) Send(ctx context.Context, endpoint string, rep *Report) error {
	errs := make([]error, len(m))
	var wg sync.WaitGroup
	for i, s := range m {
		wg.Add(1)
		go func(i int, s Sender) {
			defer wg.Done()
			errs[i] = s.Send(ctx, endpoint, rep)
		}(i, s)
	}
	wg.Wait()

	var combined error
	for _, err := range errs {
		combined = errors.CombineErrors(combined, err)
	}
	return combined
}

func (m Multi) Settle(ctx context.Context, endpoint string, out book.Outcome) error {
	return Settle(ctx, m, endpoint, out)
}

// Signing signs every report with the operator key before passing it on.
type Signing struct {
	next   Sender
	hasher *crypto.TypedHasher
	signer *crypto.Signer
}

func NewSigning(next Sender, hasher *crypto.TypedHasher, signer *crypto.Signer) *Signing {
	return &Signing{next: next, hasher: hasher, signer: signer}
}

func (s *Signing) Send(ctx context.Context, endpoint string, rep *Report) error {
	if err := rep.Sign(s.hasher, s.signer); err != nil {
		return err
	}
	return s.next.Send(ctx, endpoint, rep)
}

func (s *Signing) Settle(ctx context.Context, endpoint string, out book.Outcome) error {
	return Settle(ctx, s, endpoint, out)
}
