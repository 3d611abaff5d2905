package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	tomb "gopkg.in/tomb.v2"

	"github.com/uhyunpark/hyperclob/params"
	"github.com/uhyunpark/hyperclob/pkg/api"
	"github.com/uhyunpark/hyperclob/pkg/book"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
	"github.com/uhyunpark/hyperclob/pkg/market"
	"github.com/uhyunpark/hyperclob/pkg/p2p"
	"github.com/uhyunpark/hyperclob/pkg/settlement"
	"github.com/uhyunpark/hyperclob/pkg/storage"
	"github.com/uhyunpark/hyperclob/pkg/util"
)

func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Journal ----
	var store *storage.PebbleStore
	var err error
	if cfg.Node.DataDir == "" {
		store, err = storage.NewMemStore()
	} else {
		store, err = storage.NewPebbleStore(cfg.Node.DataDir)
	}
	if err != nil {
		return err
	}
	defer store.Close()

	// ---- Settlement gateways ----
	rpcGw := settlement.NewRPCGateway(
		settlement.WithMethod(cfg.Settlement.Method),
		settlement.WithRPCLogger(sugar),
	)
	defer rpcGw.Close()
	gateways := settlement.Multi{rpcGw}

	if len(cfg.Settlement.KafkaBrokers) > 0 {
		kg := settlement.NewKafkaGateway(cfg.Settlement.KafkaBrokers, cfg.Settlement.KafkaTopic)
		defer kg.Close()
		gateways = append(gateways, kg)
		sugar.Infow("kafka_settlement_enabled", "brokers", cfg.Settlement.KafkaBrokers, "topic", cfg.Settlement.KafkaTopic)
	}

	var gossip *p2p.Gossip
	if cfg.Gossip.Listen != "" {
		gossip, err = p2p.NewGossip(ctx, p2p.Config{
			ListenAddr: cfg.Gossip.Listen,
			Bootstrap:  cfg.Gossip.Bootstrap,
			Logger:     sugar,
		})
		if err != nil {
			return err
		}
		defer gossip.Close()
		gateways = append(gateways, settlement.NewGossipGateway(gossip))
	}

	var sender settlement.Sender = gateways
	if cfg.Settlement.OperatorKey != "" {
		operator, err := crypto.FromPrivateKeyHex(cfg.Settlement.OperatorKey)
		if err != nil {
			return err
		}
		domain := crypto.DefaultDomain()
		domain.ChainID = cfg.Settlement.ChainID
		sender = settlement.NewSigning(sender, crypto.NewTypedHasher(domain), operator)
		sugar.Infow("operator_signing_enabled", "operator", operator.Address().Hex())
	}
	recorder := settlement.NewRecorder(sender, store, sugar)

	// ---- Markets ----
	var srv *api.Server
	registry := market.NewRegistry(
		book.WithSettler(recorder),
		book.WithSettleTimeout(cfg.Settlement.Timeout),
		book.WithLogger(sugar),
		book.WithObserver(func(out book.Outcome) {
			if err := store.SaveOutcome(out); err != nil {
				sugar.Warnw("journal_write_failed", "market", out.Market.Hex(), "seq", out.Seq, "err", err)
			}
		}),
		book.WithObserver(func(out book.Outcome) { srv.OnCommit(out) }),
	)
	for _, m := range cfg.Node.Markets {
		if err := openMarket(registry, store, m, sugar); err != nil {
			return err
		}
	}

	// ---- API ----
	opts := []api.Option{
		api.WithJournal(store),
		api.WithLogger(sugar),
		api.WithSettlementEndpoint(cfg.Settlement.RPCURL),
		api.WithAllowedOrigins(cfg.API.AllowedOrigins...),
	}
	if cfg.API.VerifyOrders {
		domain := crypto.DefaultDomain()
		domain.ChainID = cfg.Settlement.ChainID
		opts = append(opts, api.WithOrderVerification(crypto.NewTypedHasher(domain)))
	}
	srv = api.NewServer(registry, opts...)

	if gossip != nil {
		for _, m := range cfg.Node.Markets {
			topic := settlement.GossipTopic(m)
			err := gossip.Subscribe(ctx, topic, func(from peer.ID, data []byte) {
				sugar.Debugw("peer_settlement_report", "topic", topic, "peer", from.String(), "bytes", len(data))
			})
			if err != nil {
				return err
			}
		}
	}

	// ---- Supervision ----
	t, tctx := tomb.WithContext(ctx)
	t.Go(func() error {
		return srv.Serve(tctx, cfg.API.Addr)
	})
	if cfg.Settlement.RetryInterval > 0 {
		t.Go(func() error {
			return retryLoop(tctx, recorder, cfg.Settlement.RetryInterval, sugar)
		})
	}

	sugar.Infow("node_started",
		"api", cfg.API.Addr,
		"markets", registry.Count(),
		"settlement_endpoint", cfg.Settlement.RPCURL,
		"gateways", len(gateways))

	<-t.Dying()
	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openMarket registers the book for m, continuing the journal's sequence and
// putting back the orders that were resting when the node last stopped.
func openMarket(registry *market.Registry, store *storage.PebbleStore, m common.Address, sugar *zap.SugaredLogger) error {
	last, err := store.LastSeq(m)
	if err != nil {
		return err
	}
	b, err := registry.Register(m, book.WithStartSeq(last))
	if err != nil {
		return err
	}

	recs, err := store.RestingOrders(m)
	if err != nil {
		return err
	}
	orders := make([]book.Order, 0, len(recs))
	for _, rec := range recs {
		o, err := rec.Order()
		if err != nil {
			return err
		}
		orders = append(orders, o)
	}
	if err := b.Restore(orders...); err != nil {
		return errors.Wrapf(err, "restore market %s", m.Hex())
	}

	bids, asks := b.Depth()
	sugar.Infow("market_registered", "market", m.Hex(), "seq", last, "bids", bids, "asks", asks)
	return nil
}

func retryLoop(ctx context.Context, r *settlement.Recorder, every time.Duration, sugar *zap.SugaredLogger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := r.Retry(ctx, "")
			if err != nil && ctx.Err() == nil {
				sugar.Warnw("settlement_retry_failed", "err", err)
				continue
			}
			if res.Delivered+res.Failed > 0 {
				sugar.Infow("settlement_retry_pass", "delivered", res.Delivered, "failed", res.Failed)
			}
		}
	}
}
