package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperclob/pkg/api"
	"github.com/uhyunpark/hyperclob/pkg/book"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

func main() {
	var (
		node     = flag.String("node", "http://localhost:8080", "node API base URL")
		mkt      = flag.String("market", common.Address{}.Hex(), "market address")
		sideFlag = flag.String("side", "bid", "bid|ask")
		price    = flag.String("price", "", "limit price (decimal)")
		qty      = flag.String("qty", "", "quantity (decimal)")
		keyHex   = flag.String("key", os.Getenv("TRADER_KEY"), "trader private key hex; a fresh key is generated when empty")
		nonceArg = flag.Uint64("nonce", 0, "order nonce; random when 0")
		endpoint = flag.String("endpoint", "", "settlement endpoint override")
		chainID  = flag.Int64("chain-id", 1337, "EIP-712 chain id")
	)
	flag.Parse()

	if err := run(*node, *mkt, *sideFlag, *price, *qty, *keyHex, *nonceArg, *endpoint, *chainID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(node, mkt, sideArg, price, qty, keyHex string, nonce uint64, endpoint string, chainID int64) error {
	if !common.IsHexAddress(mkt) {
		return fmt.Errorf("invalid market %q", mkt)
	}
	side, err := book.ParseSide(sideArg)
	if err != nil {
		return err
	}
	p, ok := new(big.Int).SetString(price, 10)
	if !ok || p.Sign() <= 0 {
		return fmt.Errorf("invalid price %q", price)
	}
	q, ok := new(big.Int).SetString(qty, 10)
	if !ok || q.Sign() <= 0 {
		return fmt.Errorf("invalid quantity %q", qty)
	}

	var signer *crypto.Signer
	if keyHex == "" {
		if signer, err = crypto.GenerateKey(); err != nil {
			return err
		}
		fmt.Printf("Generated trader %s\n", signer.Address().Hex())
	} else if signer, err = crypto.FromPrivateKeyHex(keyHex); err != nil {
		return err
	}
	if nonce == 0 {
		if nonce, err = crypto.GenerateNonce(); err != nil {
			return err
		}
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(chainID)
	n := new(big.Int).SetUint64(nonce)
	sig, err := crypto.NewTypedHasher(domain).SignOrder(signer, &crypto.OrderIntent{
		Market:   common.HexToAddress(mkt),
		Side:     uint8(side),
		Price:    p,
		Quantity: q,
		Nonce:    n,
		Trader:   signer.Address(),
	})
	if err != nil {
		return err
	}

	req := api.SubmitOrderRequest{
		Market:    common.HexToAddress(mkt).Hex(),
		Trader:    signer.Address().Hex(),
		Side:      side.String(),
		Price:     p.String(),
		Quantity:  q.String(),
		Nonce:     n.String(),
		Signature: hexutil.Encode(sig),
		Endpoint:  endpoint,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(node+"/api/v1/orders", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to submit order: %w", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") != nil {
		pretty.Reset()
		pretty.Write(out)
	}
	fmt.Printf("%s %s\n%s\n", resp.Status, node, pretty.String())

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusAccepted:
		fmt.Println("Order matched; settlement notification failed and was journaled for retry.")
		return nil
	default:
		return fmt.Errorf("order rejected with %s", resp.Status)
	}
}
