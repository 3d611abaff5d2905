package settlement

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/hyperclob/pkg/book"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaGateway publishes reports to a topic keyed by market, so each
// market's reports stay ordered within one partition. The settlement
// endpoint travels as a message header.
type KafkaGateway struct {
	writer messageWriter
}

func NewKafkaGateway(brokers []string, topic string) *KafkaGateway {
	return &KafkaGateway{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (g *KafkaGateway) Send(ctx context.Context, endpoint string, rep *Report) error {
	data, err := rep.Marshal()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   rep.Market.Bytes(),
		Value: data,
		Headers: []kafka.Header{
			{Key: "endpoint", Value: []byte(endpoint)},
			{Key: "seq", Value: []byte(strconv.FormatUint(rep.Seq, 10))},
		},
	}
	if err := g.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to publish report %d", rep.Seq)
	}
	return nil
}

func (g *KafkaGateway) Settle(ctx context.Context, endpoint string, out book.Outcome) error {
	return Settle(ctx, g, endpoint, out)
}

func (g *KafkaGateway) Close() error { return g.writer.Close() }
