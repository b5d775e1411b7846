// Package handlers is the HTTP surface of the bridge ledger.
//
// Callers identify with an X-Api-Key header, mapped to a principal by the server config, or by
// signing the request with an Ethereum key, which makes the recovered address the principal.
// A signed request carries X-Signature-Time (unix milliseconds) and X-Signature, a personal-sign
// signature over SignedDigest(time, body). The time must be within the signature window of the
// server clock and every digest is accepted once per signer. Requests with neither header run
// as the anonymous principal.
package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"gobridgeledger/acl"
	"gobridgeledger/bridgesvc/relayer"
	"gobridgeledger/ledger"
	"gobridgeledger/redis"
	"gobridgeledger/registry"
	"gobridgeledger/router"
	"gobridgeledger/types"
)

const (
	HeaderAPIKey        = "X-Api-Key"
	HeaderSignature     = "X-Signature"
	HeaderSignatureTime = "X-Signature-Time"

	defaultSignatureWindow = 5 * time.Minute
)

type API struct {
	Ledger   *ledger.Ledger
	Registry *registry.Registry
	Router   *router.Router
	Store    *redis.Store
	Roles    *acl.List
	// api key -> principal
	Keys map[string]string
	Log  *zap.SugaredLogger

	// allowed drift of X-Signature-Time, 5 minutes when zero
	SignatureWindow time.Duration

	now func() time.Time
}

// SignedDigest is what a caller signs: keccak256 of the decimal timestamp followed by the body
func SignedDigest(ts string, body []byte) common.Hash {
	return crypto.Keccak256Hash([]byte(ts), body)
}

func (a *API) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func (a *API) signatureWindow() time.Duration {
	if a.SignatureWindow > 0 {
		return a.SignatureWindow
	}
	return defaultSignatureWindow
}

// call is an authenticated request with its raw body
type call struct {
	principal string
	body      []byte
}

// authenticate reads the body and resolves the principal; an unknown api key or a bad
// signature is an error rather than a fallback to anonymous
func (a *API) authenticate(r *http.Request) (*call, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, types.Wrap(types.ErrInvalidRequest, err, "reading request body")
	}
	c := &call{body: body}

	if key := r.Header.Get(HeaderAPIKey); key != "" {
		p, ok := a.Keys[key]
		if !ok {
			return nil, types.Errorf(types.ErrUnauthorized, "unknown api key")
		}
		c.principal = p
		return c, nil
	}
	if sig := r.Header.Get(HeaderSignature); sig != "" {
		signer, err := a.verifySignature(r, sig, body)
		if err != nil {
			return nil, err
		}
		c.principal = signer.Hex()
	}
	return c, nil
}

// verifySignature recovers the signer of a fresh, never seen signed request
func (a *API) verifySignature(r *http.Request, sig string, body []byte) (common.Address, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(sig))
	if err != nil {
		return common.Address{}, types.Errorf(types.ErrUnauthorized, "malformed signature")
	}
	ts := strings.TrimSpace(r.Header.Get(HeaderSignatureTime))
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return common.Address{}, types.Errorf(types.ErrUnauthorized, "missing or malformed %s", HeaderSignatureTime)
	}
	window := a.signatureWindow()
	drift := a.clock().Sub(time.UnixMilli(ms))
	if drift > window || drift < -window {
		return common.Address{}, types.Errorf(types.ErrUnauthorized, "signature time outside %s window", window)
	}

	digest := SignedDigest(ts, body)
	signer, err := relayer.RecoverSigner(digest, raw)
	if err != nil {
		return common.Address{}, types.Wrap(types.ErrUnauthorized, err, "recovering signer")
	}
	// a consumed digest is kept past the window, by then its time is rejected anyway
	fresh, err := a.Store.ConsumeSignature(r.Context(), signer.Hex(), digest, 2*window)
	if err != nil {
		return common.Address{}, types.Wrap(types.ErrInternal, err, "recording signature")
	}
	if !fresh {
		return common.Address{}, types.Errorf(types.ErrUnauthorized, "signature already used")
	}
	return signer, nil
}

// begin authenticates and decodes the body into out, writing the error response itself
func (a *API) begin(w http.ResponseWriter, r *http.Request, out interface{}) (*call, bool) {
	c, err := a.authenticate(r)
	if err != nil {
		a.Log.Infow("Request rejected", "path", r.URL.Path, "error", err)
		responseError(w, err)
		return nil, false
	}
	if out != nil {
		if err := decodeBody(c.body, out); err != nil {
			a.Log.Infow("Error unmarshalling request body", "path", r.URL.Path, "error", err)
			responseJSON(w, &APIResponse{
				Status:  "error",
				Kind:    string(types.ErrInvalidRequest.Kind),
				Message: "Cannot unmarshal input JSON",
			}, http.StatusBadRequest)
			return nil, false
		}
	}
	return c, true
}

// Routes mounts every endpoint on a fresh chi router
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", a.HealthCheck)
	r.Get("/state", a.State)
	r.Post("/pause", a.Pause)
	r.Post("/unpause", a.Unpause)
	r.Get("/records", a.Records)

	r.Get("/mappings", a.ListMappings)
	r.Post("/mappings", a.CreateMapping)
	r.Get("/mappings/{token}/{chain}", a.GetMapping)
	r.Get("/mappings/{token}/{chain}/history", a.MappingHistory)
	r.Post("/mappings/{token}/{chain}/deactivate", a.DeactivateMapping)

	r.Get("/limits/{token}", a.GetLimits)
	r.Post("/limits/{token}", a.SetLimits)
	r.Get("/volume/{token}", a.GetDailyVolume)

	r.Post("/bridge/out", a.BridgeOut)
	r.Post("/bridge/in", a.BridgeIn)
	r.Get("/fees/{chain}", a.EstimateFee)

	r.Get("/operations/{id}", a.GetOperation)
	r.Get("/users/{user}/operations", a.ListOperations)
	r.Post("/operations/{id}/complete", a.Complete)
	r.Post("/operations/{id}/cancel", a.Cancel)

	r.Get("/services", a.ListServices)
	r.Get("/services/{service}", a.GetService)
	r.Post("/services/{service}", a.UpdateService)
	r.Delete("/services/{service}", a.RemoveService)
	r.Post("/services/{service}/pause", a.PauseService)
	r.Post("/services/{service}/unpause", a.UnpauseService)
	r.Post("/routing/default", a.SetDefault)
	r.Post("/routing/preferred/{chain}", a.SetPreferred)

	r.Post("/services/{service}/receive", a.Receive)
	r.Get("/services/{service}/messages/{id}", a.MessageStatus)
	r.Post("/services/{service}/messages/{id}/retry", a.RetryMessage)
	r.Post("/services/{service}/trusted/{chain}", a.SetTrustedRemote)
	r.Post("/services/{service}/validators", a.AddValidator)
	r.Delete("/services/{service}/validators/{validator}", a.RemoveValidator)

	return r
}
