package endpoint

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ybbus/jsonrpc"

	"gobridgeledger/types"
)

// Endpoint is the external messaging endpoint a Service hands envelopes to
type Endpoint interface {
	EstimateFees(ctx context.Context, dstChainID uint64, payload, adapterParams []byte) (*big.Int, error)
	// Send returns the outbound nonce the endpoint assigned
	Send(ctx context.Context, dstChainID uint64, destination, payload, adapterParams []byte, fee *big.Int) (uint64, error)
}

// RPCEndpoint talks to the endpoint's JSON-RPC relay
type RPCEndpoint struct {
	client jsonrpc.RPCClient
}

func NewRPCEndpoint(url string, headers map[string]string) *RPCEndpoint {
	return &RPCEndpoint{
		client: jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
			HTTPClient:    &http.Client{Timeout: 30 * time.Second},
			CustomHeaders: headers,
		}),
	}
}

type estimateParams struct {
	DstChainID    uint64        `json:"dstChainId"`
	Payload       hexutil.Bytes `json:"payload"`
	AdapterParams hexutil.Bytes `json:"adapterParams"`
}

type sendParams struct {
	DstChainID    uint64        `json:"dstChainId"`
	Destination   hexutil.Bytes `json:"destination"`
	Payload       hexutil.Bytes `json:"payload"`
	AdapterParams hexutil.Bytes `json:"adapterParams"`
	Fee           string        `json:"fee"`
}

type estimateResult struct {
	NativeFee string `json:"nativeFee"`
}

type sendResult struct {
	Nonce uint64 `json:"nonce"`
}

func (e *RPCEndpoint) call(ctx context.Context, method string, params, result interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := e.client.Call(method, params)
	if err != nil {
		return types.Wrap(types.ErrInternal, err, "endpoint %s", method)
	}
	if resp.Error != nil {
		return types.Wrap(types.ErrInternal, resp.Error, "endpoint %s", method)
	}
	if err := resp.GetObject(result); err != nil {
		return types.Wrap(types.ErrInternal, err, "endpoint %s: bad result", method)
	}
	return nil
}

func (e *RPCEndpoint) EstimateFees(ctx context.Context, dstChainID uint64, payload, adapterParams []byte) (*big.Int, error) {
	var res estimateResult
	err := e.call(ctx, "endpoint_estimateFees", &estimateParams{
		DstChainID:    dstChainID,
		Payload:       payload,
		AdapterParams: adapterParams,
	}, &res)
	if err != nil {
		return nil, err
	}
	fee, ok := new(big.Int).SetString(res.NativeFee, 10)
	if !ok {
		return nil, types.Errorf(types.ErrInternal, "endpoint returned fee %q", res.NativeFee)
	}
	return fee, nil
}

func (e *RPCEndpoint) Send(ctx context.Context, dstChainID uint64, destination, payload, adapterParams []byte, fee *big.Int) (uint64, error) {
	var res sendResult
	err := e.call(ctx, "endpoint_send", &sendParams{
		DstChainID:    dstChainID,
		Destination:   destination,
		Payload:       payload,
		AdapterParams: adapterParams,
		Fee:           fee.String(),
	}, &res)
	return res.Nonce, err
}
