package settlement

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/book"
)

// Publisher is the slice of the p2p layer the gossip gateway needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// GossipTopic is the per-market pubsub topic for settlement reports.
func GossipTopic(market common.Address) string {
	return "clob/settlement/" + market.Hex()
}

// GossipGateway broadcasts reports to peers. The endpoint is ignored; peers
// subscribe by market.
type GossipGateway struct {
	pub Publisher
}

func NewGossipGateway(pub Publisher) *GossipGateway {
	return &GossipGateway{pub: pub}
}

func (g *GossipGateway) Send(ctx context.Context, _ string, rep *Report) error {
	data, err := rep.Marshal()
	if err != nil {
		return err
	}
	if err := g.pub.Publish(ctx, GossipTopic(rep.Market), data); err != nil {
		return errors.Wrapf(err, "failed to gossip report %d", rep.Seq)
	}
	return nil
}

func (g *GossipGateway) Settle(ctx context.Context, endpoint string, out book.Outcome) error {
	return Settle(ctx, g, endpoint, out)
}
