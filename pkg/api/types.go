package api

// Request and response bodies. Prices and quantities are decimal strings.

type MarketInfo struct {
	Market  string `json:"market"`
	Bids    int    `json:"bids"`
	Asks    int    `json:"asks"`
	BestBid string `json:"bestBid,omitempty"`
	BestAsk string `json:"bestAsk,omitempty"`
}

type DepthResponse struct {
	Market string `json:"market"`
	Bids   int    `json:"bids"`
	Asks   int    `json:"asks"`
}

type PriceLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Orders   int    `json:"orders"`
}

// BookSnapshot is the aggregated ladder, bids high to low, asks low to high.
type BookSnapshot struct {
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"` // unix ms
}

type FillInfo struct {
	MakerOrder string `json:"makerOrder"`
	Maker      string `json:"maker"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

type OrderInfo struct {
	ID        string `json:"id"`
	Market    string `json:"market"`
	Trader    string `json:"trader"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"` // original quantity when known
	Remaining string `json:"remaining"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// SubmitOrderRequest is the body of POST /orders. Signature, when present,
// is an EIP-712 signature over the order intent and is carried as the
// order's auxiliary payload.
type SubmitOrderRequest struct {
	Market    string `json:"market"`
	Trader    string `json:"trader"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Nonce     string `json:"nonce,omitempty"`
	Signature string `json:"signature,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
}

type SubmitOrderResponse struct {
	OrderID         string     `json:"orderId"`
	Status          string     `json:"status"`
	Filled          string     `json:"filled"`
	Remaining       string     `json:"remaining"`
	Fills           []FillInfo `json:"fills"`
	Seq             uint64     `json:"seq"`
	Bids            int        `json:"bids"`
	Asks            int        `json:"asks"`
	SettlementError string     `json:"settlement_error,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WebSocket messages.

type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type FillsUpdate struct {
	Type      string     `json:"type"` // "fills"
	Market    string     `json:"market"`
	OrderID   string     `json:"orderId"`
	Side      string     `json:"side"`
	Fills     []FillInfo `json:"fills"`
	Seq       uint64     `json:"seq"`
	Timestamp int64      `json:"timestamp"`
}

type DepthUpdate struct {
	Type      string `json:"type"` // "depth"
	Market    string `json:"market"`
	Bids      int    `json:"bids"`
	Asks      int    `json:"asks"`
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"`
}
