package settlement

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/pkg/book"
)

// DefaultRPCMethod is the JSON-RPC method reports are delivered to.
const DefaultRPCMethod = "exchange_settle"

// RPCGateway delivers reports over Ethereum-style JSON-RPC. Clients are
// dialed lazily and cached per endpoint.
type RPCGateway struct {
	method string
	log    *zap.SugaredLogger

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

type RPCOption func(*RPCGateway)

func WithMethod(method string) RPCOption {
	return func(g *RPCGateway) {
		if method != "" {
			g.method = method
		}
	}
}

func WithRPCLogger(l *zap.SugaredLogger) RPCOption {
	return func(g *RPCGateway) { g.log = l }
}

func NewRPCGateway(opts ...RPCOption) *RPCGateway {
	g := &RPCGateway{
		method:  DefaultRPCMethod,
		log:     zap.NewNop().Sugar(),
		clients: make(map[string]*rpc.Client),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *RPCGateway) Send(ctx context.Context, endpoint string, rep *Report) error {
	client, err := g.client(ctx, endpoint)
	if err != nil {
		return err
	}

	var receipt string
	if err := client.CallContext(ctx, &receipt, g.method, rep); err != nil {
		var rpcErr rpc.Error
		if !errors.As(err, &rpcErr) {
			// Transport failure: redial next time.
			g.evict(endpoint, client)
		}
		return errors.Wrapf(err, "failed to call %s", g.method)
	}

	g.log.Debugw("settlement_delivered",
		"endpoint", endpoint,
		"market", rep.Market.Hex(),
		"seq", rep.Seq,
		"receipt", receipt)
	return nil
}

func (g *RPCGateway) Settle(ctx context.Context, endpoint string, out book.Outcome) error {
	return Settle(ctx, g, endpoint, out)
}

func (g *RPCGateway) client(ctx context.Context, endpoint string) (*rpc.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[endpoint]; ok {
		return c, nil
	}
	c, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", endpoint)
	}
	g.clients[endpoint] = c
	return c, nil
}

func (g *RPCGateway) evict(endpoint string, c *rpc.Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clients[endpoint] == c {
		delete(g.clients, endpoint)
		c.Close()
	}
}

// Close drops every cached client.
func (g *RPCGateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ep, c := range g.clients {
		c.Close()
		delete(g.clients, ep)
	}
}
