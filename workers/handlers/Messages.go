package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"gobridgeledger/acl"
	"gobridgeledger/bridgesvc"
	"gobridgeledger/types"
)

type retrier interface {
	RetryMessage(ctx context.Context, caller string, id common.Hash) error
}

type trustedRemotes interface {
	SetTrustedRemote(caller string, chainID uint64, remote []byte) error
}

type validatorSet interface {
	AddValidator(a common.Address)
	RemoveValidator(a common.Address) error
}

// Receive decodes the delivery shape the backend's type expects and hands it over with the
// caller's principal; the backend does its own authentication
func (a *API) Receive(w http.ResponseWriter, r *http.Request) {
	b, ok := a.backend(w, r)
	if !ok {
		return
	}

	var in bridgesvc.Inbound
	var principal string
	switch b.Type() {
	case types.ServiceRelayerVerified:
		var req SignedDeliveryRequest
		c, ok := a.begin(w, r, &req)
		if !ok {
			return
		}
		if req.Message == nil {
			fieldError(w, "message", "Missing message")
			return
		}
		sigs := make([][]byte, 0, len(req.Signatures))
		for _, s := range req.Signatures {
			sig, err := hexutil.Decode(strings.TrimSpace(s))
			if err != nil {
				fieldError(w, "signatures", "Malformed signature")
				return
			}
			sigs = append(sigs, sig)
		}
		principal = c.principal
		in = bridgesvc.SignedDelivery{Message: req.Message, Signatures: sigs}

	case types.ServiceEndpointTrusted:
		var req EndpointDeliveryRequest
		c, ok := a.begin(w, r, &req)
		if !ok {
			return
		}
		src, err := hexutil.Decode(req.SrcAddress)
		if err != nil {
			fieldError(w, "srcAddress", "Malformed hex")
			return
		}
		payload, err := hexutil.Decode(req.Payload)
		if err != nil {
			fieldError(w, "payload", "Malformed hex")
			return
		}
		principal = c.principal
		in = bridgesvc.EndpointDelivery{SrcChainID: req.SrcChainID, SrcAddress: src, Nonce: req.Nonce, Payload: payload}
	}

	if err := b.Receive(r.Context(), principal, in); err != nil {
		a.Log.Infow("Delivery rejected", "service", b.ID(), "caller", principal, "error", err)
		responseError(w, err)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok", Message: "accepted"}, http.StatusOK)
}

func (a *API) MessageStatus(w http.ResponseWriter, r *http.Request) {
	b, ok := a.backend(w, r)
	if !ok {
		return
	}
	id, ok := urlHash(w, r, "id")
	if !ok {
		return
	}
	status, err := b.GetMessageStatus(r.Context(), id)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &MessageStatusResponse{Status: "ok", MessageID: id.Hex(), MessageStatus: string(status)}, http.StatusOK)
}

func (a *API) RetryMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := a.begin(w, r, nil)
	if !ok {
		return
	}
	b, ok := a.backend(w, r)
	if !ok {
		return
	}
	id, ok := urlHash(w, r, "id")
	if !ok {
		return
	}
	rt, ok := b.(retrier)
	if !ok {
		responseError(w, types.Errorf(types.ErrInvalidRequest, "service %s does not retry messages", b.ID()))
		return
	}
	if err := rt.RetryMessage(r.Context(), c.principal, id); err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok", Message: "delivered"}, http.StatusOK)
}

func (a *API) SetTrustedRemote(w http.ResponseWriter, r *http.Request) {
	var req TrustedRemoteRequest
	c, ok := a.begin(w, r, &req)
	if !ok {
		return
	}
	b, ok := a.backend(w, r)
	if !ok {
		return
	}
	chainID, ok := urlChain(w, r, "chain")
	if !ok {
		return
	}
	remote, err := hexutil.Decode(req.Remote)
	if err != nil {
		fieldError(w, "remote", "Malformed hex")
		return
	}
	tr, ok := b.(trustedRemotes)
	if !ok {
		responseError(w, types.Errorf(types.ErrInvalidRequest, "service %s has no trusted remotes", b.ID()))
		return
	}
	if err := tr.SetTrustedRemote(c.principal, chainID, remote); err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &APIResponse{Status: "ok"}, http.StatusOK)
}

func (a *API) AddValidator(w http.ResponseWriter, r *http.Request) {
	var req ValidatorRequest
	c, ok := a.begin(w, r, &req)
	if !ok {
		return
	}
	addr, ok := parseAddress(req.Validator)
	if !ok {
		fieldError(w, "validator", "No ethereum address or invalid address provided")
		return
	}
	a.changeValidators(w, r, c, func(vs validatorSet) error {
		vs.AddValidator(addr)
		return nil
	})
}

func (a *API) RemoveValidator(w http.ResponseWriter, r *http.Request) {
	c, ok := a.begin(w, r, nil)
	if !ok {
		return
	}
	addr, ok := urlAddress(w, r, "validator")
	if !ok {
		return
	}
	a.changeValidators(w, r, c, func(vs validatorSet) error {
		return vs.RemoveValidator(addr)
	})
}

func (a *API) changeValidators(w http.ResponseWriter, r *http.Request, c *call, f func(vs validatorSet) error) {
	if err := a.Roles.Require(c.principal, acl.RoleAdmin); err != nil {
		responseError(w, err)
		return
	}
	b, ok := a.backend(w, r)
	if !ok {
		return
	}
	vs, ok := b.(validatorSet)
	if !ok {
		responseError(w, types.Errorf(types.ErrInvalidRequest, "service %s has no validators", b.ID()))
		return
	}
	if err := f(vs); err != nil {
		responseError(w, err)
		return
	}
	a.Log.Infow("Validator set changed", "service", b.ID(), "by", c.principal)
	responseJSON(w, &APIResponse{Status: "ok"}, http.StatusOK)
}
