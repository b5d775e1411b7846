package handlers

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gobridgeledger/acl"
	"gobridgeledger/bridgesvc/relayer"
	"gobridgeledger/custody"
	"gobridgeledger/ledger"
	"gobridgeledger/redis"
	"gobridgeledger/registry"
	"gobridgeledger/router"
	"gobridgeledger/types"
)

const (
	homeChain   = 1
	remoteChain = 56
	adminKey    = "admin-key"
	resolverKey = "resolver-key"
)

var (
	homeToken   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	remoteToken = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	recipient   = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

type fixture struct {
	handler   http.Handler
	store     *redis.Store
	custody   *custody.Memory
	user      *ecdsa.PrivateKey
	validator *ecdsa.PrivateKey
	clock     time.Time
	seq       int64
}

func newFixture(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	store := redis.New(redis.NewPool(mr.Addr()))
	t.Cleanup(func() { store.Close() })

	user, err := crypto.GenerateKey()
	require.NoError(t, err)
	validator, err := crypto.GenerateKey()
	require.NoError(t, err)

	log := zap.NewNop().Sugar()
	roles := acl.New()
	roles.Grant(acl.RoleAdmin, "ops")
	roles.Grant(acl.RoleResolver, "resolver-bot")

	defaults := &types.BridgeLimits{DailyLimit: big.NewInt(1000), SingleOperationLimit: big.NewInt(500)}
	reg := registry.New(store, roles, homeChain, []uint64{homeChain, remoteChain}, defaults, log)
	rt := router.New(roles, log)
	mem := custody.NewMemory()
	led := ledger.New(ledger.Config{
		HomeChainID:      homeChain,
		MinAmount:        big.NewInt(1),
		MaxAmount:        big.NewInt(10000),
		DefaultLimits:    defaults,
		OperationTimeout: time.Hour,
		GasBudget:        100000,
	}, store, reg, rt, mem, roles, log)

	svc, err := relayer.New(relayer.Config{
		ID:         "hashport",
		Chains:     []uint64{remoteChain},
		Validators: []common.Address{crypto.PubkeyToAddress(validator.PublicKey)},
		Threshold:  1,
		Fees:       &relayer.FeeModel{BaseFee: big.NewInt(7)},
	}, store, nil, roles, log)
	require.NoError(t, err)
	svc.SetHandler(led.MessageHandler("hashport"))
	require.NoError(t, rt.Add("ops", types.ServiceConfig{
		ID:              "hashport",
		ServiceType:     types.ServiceRelayerVerified,
		Active:          true,
		Priority:        1,
		SupportedChains: []uint64{remoteChain},
	}, svc))

	mem.Credit(homeChain, homeToken, crypto.PubkeyToAddress(user.PublicKey), big.NewInt(1000))

	api := &API{
		Ledger:   led,
		Registry: reg,
		Router:   rt,
		Store:    store,
		Roles:    roles,
		Keys:     map[string]string{adminKey: "ops", resolverKey: "resolver-bot"},
		Log:      log,

		SignatureWindow: time.Minute,
	}
	f := &fixture{store: store, custody: mem, user: user, validator: validator, clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	api.now = func() time.Time { return f.clock }
	f.handler = api.Routes()
	return f
}

func mustBody(t *testing.T, v interface{}) []byte {
	if v == nil {
		return nil
	}
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

func (f *fixture) do(t *testing.T, method, path, key string, v interface{}) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(mustBody(t, v)))
	if key != "" {
		req.Header.Set(HeaderAPIKey, key)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

// signedAt returns the body and headers of a request signed by key with the given time
func signedAt(t *testing.T, key *ecdsa.PrivateKey, at time.Time, v interface{}) ([]byte, http.Header) {
	body := mustBody(t, v)
	ts := strconv.FormatInt(at.UnixMilli(), 10)
	sig, err := relayer.Sign(key, SignedDigest(ts, body))
	require.NoError(t, err)

	h := http.Header{}
	h.Set(HeaderSignature, hexutil.Encode(sig))
	h.Set(HeaderSignatureTime, ts)
	return body, h
}

func (f *fixture) send(method, path string, body []byte, h http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range h {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

// signed sends the request with the body signed by key, each call with a fresh time
func (f *fixture) signed(t *testing.T, method, path string, key *ecdsa.PrivateKey, v interface{}) *httptest.ResponseRecorder {
	f.seq++
	body, h := signedAt(t, key, f.clock.Add(time.Duration(f.seq)*time.Millisecond), v)
	return f.send(method, path, body, h)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func (f *fixture) createMapping(t *testing.T) {
	w := f.do(t, http.MethodPost, "/mappings", adminKey, &MappingRequest{
		HomeToken:     homeToken.Hex(),
		RemoteToken:   remoteToken.Hex(),
		RemoteChainID: remoteChain,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (f *fixture) bridgeOut(t *testing.T, amount string) *httptest.ResponseRecorder {
	return f.signed(t, http.MethodPost, "/bridge/out", f.user, &BridgeRequest{
		Token:         homeToken.Hex(),
		Amount:        amount,
		RemoteChainID: remoteChain,
		Recipient:     recipient.Hex(),
	})
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var res APIResponse
	decode(t, w, &res)
	assert.Equal(t, "ok", res.Status)
}

func TestCreateMapping(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)

	w := f.do(t, http.MethodGet, "/mappings/"+homeToken.Hex()+"/56", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var m types.TokenMapping
	decode(t, w, &m)
	assert.Equal(t, remoteToken, m.RemoteToken)
	assert.True(t, m.Active)

	// a second active mapping for the pair conflicts
	w = f.do(t, http.MethodPost, "/mappings", adminKey, &MappingRequest{
		HomeToken:     homeToken.Hex(),
		RemoteToken:   remoteToken.Hex(),
		RemoteChainID: remoteChain,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	var res APIResponse
	decode(t, w, &res)
	assert.Equal(t, "MappingExists", res.Kind)
}

func TestCreateMapping_Rejections(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/mappings", resolverKey, &MappingRequest{
		HomeToken:     homeToken.Hex(),
		RemoteToken:   remoteToken.Hex(),
		RemoteChainID: remoteChain,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/mappings", "nope", &MappingRequest{})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/mappings", adminKey, &MappingRequest{
		HomeToken:     "0x1234",
		RemoteToken:   remoteToken.Hex(),
		RemoteChainID: remoteChain,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var res APIResponse
	decode(t, w, &res)
	assert.Equal(t, "homeToken", res.Field)

	w = f.do(t, http.MethodPost, "/mappings", adminKey, &MappingRequest{
		HomeToken:     homeToken.Hex(),
		RemoteToken:   remoteToken.Hex(),
		RemoteChainID: 999,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	decode(t, w, &res)
	assert.Equal(t, "ChainUnsupported", res.Kind)

	req := httptest.NewRequest(http.MethodPost, "/mappings", bytes.NewReader([]byte("{")))
	req.Header.Set(HeaderAPIKey, adminKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLimits(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)
	path := "/limits/" + homeToken.Hex()

	w := f.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var limits LimitsResponse
	decode(t, w, &limits)
	assert.Equal(t, "1000", limits.DailyLimit)
	assert.Equal(t, "500", limits.SingleOperationLimit)

	w = f.do(t, http.MethodPost, path, adminKey, &LimitsRequest{DailyLimit: "100", SingleOperationLimit: "200"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var res APIResponse
	decode(t, w, &res)
	assert.Equal(t, "InvalidLimits", res.Kind)

	w = f.do(t, http.MethodPost, path, adminKey, &LimitsRequest{DailyLimit: "300", SingleOperationLimit: "200"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, path, "", nil)
	decode(t, w, &limits)
	assert.Equal(t, "300", limits.DailyLimit)
}

func TestBridgeOut_SignedByUser(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)
	user := crypto.PubkeyToAddress(f.user.PublicKey)

	w := f.bridgeOut(t, "40")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res OperationResponse
	decode(t, w, &res)
	op := res.Operation
	require.NotNil(t, op)
	assert.Equal(t, types.StatusPending, op.Status)
	assert.Equal(t, user, op.User)
	assert.Equal(t, recipient, op.Recipient)
	assert.Equal(t, "hashport", op.BackendID)
	assert.True(t, op.Dispatched)
	assert.Equal(t, "960", f.custody.Balance(homeChain, homeToken, user).String())

	w = f.do(t, http.MethodGet, "/operations/"+op.ID.Hex(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/users/"+user.Hex()+"/operations", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ops []*types.BridgeOperation
	decode(t, w, &ops)
	require.Len(t, ops, 1)
	assert.Equal(t, op.ID, ops[0].ID)

	w = f.do(t, http.MethodGet, "/volume/"+homeToken.Hex(), "", nil)
	var vol VolumeResponse
	decode(t, w, &vol)
	assert.Equal(t, "40", vol.Volume)
}

func TestBridgeOut_Rejections(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)

	// over the single operation limit
	w := f.bridgeOut(t, "501")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var res APIResponse
	decode(t, w, &res)
	assert.Equal(t, "SingleOpLimitExceeded", res.Kind)

	w = f.bridgeOut(t, "-5")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	decode(t, w, &res)
	assert.Equal(t, "amount", res.Field)

	// an anonymous caller cannot spend the user's funds
	user := crypto.PubkeyToAddress(f.user.PublicKey)
	w = f.do(t, http.MethodPost, "/bridge/out", "", &BridgeRequest{
		User:          user.Hex(),
		Token:         homeToken.Hex(),
		Amount:        "10",
		RemoteChainID: remoteChain,
		Recipient:     recipient.Hex(),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// nothing was reserved
	assert.Equal(t, "1000", f.custody.Balance(homeChain, homeToken, user).String())
}

func TestSignedRequest_UsedOnce(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)
	user := crypto.PubkeyToAddress(f.user.PublicKey)

	body, h := signedAt(t, f.user, f.clock, &BridgeRequest{
		Token:         homeToken.Hex(),
		Amount:        "40",
		RemoteChainID: remoteChain,
		Recipient:     recipient.Hex(),
	})
	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, f.send(http.MethodPost, "/bridge/out", body, h).Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusForbidden, http.StatusForbidden}, codes)
	assert.Equal(t, "960", f.custody.Balance(homeChain, homeToken, user).String())

	w := f.do(t, http.MethodGet, "/users/"+user.Hex()+"/operations", "", nil)
	var ops []*types.BridgeOperation
	decode(t, w, &ops)
	assert.Len(t, ops, 1)
}

func TestSignedRequest_Time(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)
	user := crypto.PubkeyToAddress(f.user.PublicKey)
	req := &BridgeRequest{User: user.Hex(), Token: homeToken.Hex(), Amount: "10", RemoteChainID: remoteChain, Recipient: recipient.Hex()}

	cases := map[string]func() ([]byte, http.Header){
		"stale": func() ([]byte, http.Header) {
			return signedAt(t, f.user, f.clock.Add(-2*time.Minute), req)
		},
		"future": func() ([]byte, http.Header) {
			return signedAt(t, f.user, f.clock.Add(2*time.Minute), req)
		},
		"no time": func() ([]byte, http.Header) {
			body, h := signedAt(t, f.user, f.clock, req)
			h.Del(HeaderSignatureTime)
			return body, h
		},
		"time not signed": func() ([]byte, http.Header) {
			body, h := signedAt(t, f.user, f.clock, req)
			h.Set(HeaderSignatureTime, strconv.FormatInt(f.clock.Add(time.Second).UnixMilli(), 10))
			return body, h
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			body, h := build()
			w := f.send(http.MethodPost, "/bridge/out", body, h)
			assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, "1000", f.custody.Balance(homeChain, homeToken, user).String())

	// inside the window
	body, h := signedAt(t, f.user, f.clock.Add(-30*time.Second), req)
	w := f.send(http.MethodPost, "/bridge/out", body, h)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestRelayerDeliveryCompletes(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)
	ctx := context.Background()

	w := f.bridgeOut(t, "25")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res OperationResponse
	decode(t, w, &res)
	op := res.Operation

	msg, err := f.store.GetMessage(ctx, "hashport", op.MessageID)
	require.NoError(t, err)
	require.NotNil(t, msg)

	sig, err := relayer.Sign(f.validator, msg.ID)
	require.NoError(t, err)
	delivery := &SignedDeliveryRequest{Message: msg, Signatures: []string{hexutil.Encode(sig)}}

	// only the validator may deliver
	w = f.signed(t, http.MethodPost, "/services/hashport/receive", f.user, delivery)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.signed(t, http.MethodPost, "/services/hashport/receive", f.validator, delivery)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/operations/"+op.ID.Hex(), "", nil)
	decode(t, w, &res)
	assert.Equal(t, types.StatusCompleted, res.Operation.Status)
	assert.Equal(t, "25", f.custody.Balance(remoteChain, remoteToken, recipient).String())

	w = f.do(t, http.MethodGet, "/services/hashport/messages/"+msg.ID.Hex(), "", nil)
	var status MessageStatusResponse
	decode(t, w, &status)
	assert.Equal(t, string(types.MessageDelivered), status.MessageStatus)

	// replay
	w = f.signed(t, http.MethodPost, "/services/hashport/receive", f.validator, delivery)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)
	user := crypto.PubkeyToAddress(f.user.PublicKey)

	w := f.bridgeOut(t, "30")
	var res OperationResponse
	decode(t, w, &res)
	path := "/operations/" + res.Operation.ID.Hex() + "/cancel"

	w = f.do(t, http.MethodPost, path, "", &ResolveRequest{Reason: "stuck"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, path, resolverKey, &ResolveRequest{Reason: "stuck"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &res)
	assert.Equal(t, types.StatusFailed, res.Operation.Status)
	assert.Equal(t, "1000", f.custody.Balance(homeChain, homeToken, user).String())

	w = f.do(t, http.MethodPost, path, resolverKey, &ResolveRequest{Reason: "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/operations/0x"+common.Bytes2Hex(make([]byte, 31))+"01", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPauseAndState(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)

	w := f.do(t, http.MethodPost, "/pause", resolverKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/pause", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/state", "", nil)
	var state APIStateResponse
	decode(t, w, &state)
	assert.True(t, state.Paused)
	assert.Equal(t, uint64(homeChain), state.HomeChainID)
	assert.Equal(t, []uint64{remoteChain}, state.Chains)

	w = f.bridgeOut(t, "10")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var res APIResponse
	decode(t, w, &res)
	assert.Equal(t, "BridgePaused", res.Kind)

	w = f.do(t, http.MethodPost, "/unpause", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.bridgeOut(t, "10")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestServices(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)

	w := f.do(t, http.MethodGet, "/fees/56", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fee FeeResponse
	decode(t, w, &fee)
	assert.Equal(t, "7", fee.Fee)
	assert.Equal(t, "hashport", fee.Service)

	inactive := false
	w = f.do(t, http.MethodPost, "/services/hashport", adminKey, &ServiceUpdateRequest{Active: &inactive})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var svc ServiceResponse
	decode(t, w, &svc)
	assert.False(t, svc.Service.Active)

	w = f.do(t, http.MethodGet, "/fees/56", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodGet, "/services", "", nil)
	var list []*ServiceResponse
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "hashport", list[0].Service.ID)

	w = f.do(t, http.MethodPost, "/routing/preferred/56", adminKey, &ServiceRequest{Service: "hashport"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodPost, "/routing/default", adminKey, &ServiceRequest{Service: "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServicePause(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)

	w := f.do(t, http.MethodPost, "/services/hashport/pause", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// no backend left to carry it
	w = f.bridgeOut(t, "10")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var res APIResponse
	decode(t, w, &res)
	assert.Equal(t, "NoServiceAvailable", res.Kind)

	w = f.do(t, http.MethodGet, "/services/hashport", "", nil)
	var svc ServiceResponse
	decode(t, w, &svc)
	assert.True(t, svc.Paused)

	w = f.do(t, http.MethodPost, "/services/hashport/unpause", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.bridgeOut(t, "10")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestValidators(t *testing.T) {
	f := newFixture(t)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(other.PublicKey)

	w := f.do(t, http.MethodPost, "/services/hashport/validators", resolverKey, &ValidatorRequest{Validator: addr.Hex()})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/services/hashport/validators", adminKey, &ValidatorRequest{Validator: addr.Hex()})
	require.Equal(t, http.StatusOK, w.Code)

	// one validator must remain to meet the threshold
	own := crypto.PubkeyToAddress(f.validator.PublicKey)
	w = f.do(t, http.MethodDelete, "/services/hashport/validators/"+own.Hex(), adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodDelete, "/services/hashport/validators/"+addr.Hex(), adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/services/hashport/trusted/56", adminKey, &TrustedRemoteRequest{Remote: "0x01"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecords(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)

	w := f.do(t, http.MethodGet, "/records?limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var recs []*types.Record
	decode(t, w, &recs)
	require.NotEmpty(t, recs)
	assert.Equal(t, types.RecordMappingCreated, recs[0].Kind)

	w = f.do(t, http.MethodGet, "/records?limit=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeactivateMapping(t *testing.T) {
	f := newFixture(t)
	f.createMapping(t)
	path := "/mappings/" + homeToken.Hex() + "/56"

	w := f.do(t, http.MethodPost, path+"/deactivate", resolverKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, path+"/deactivate", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var m types.TokenMapping
	decode(t, w, &m)
	assert.False(t, m.Active)

	w = f.bridgeOut(t, "10")
	var res APIResponse
	decode(t, w, &res)
	assert.Equal(t, "MappingInactive", res.Kind)

	// re-creating archives the old record
	f.createMapping(t)
	w = f.do(t, http.MethodGet, path+"/history", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []*types.TokenMapping
	decode(t, w, &history)
	assert.Len(t, history, 1)

	w = f.do(t, http.MethodGet, "/mappings", "", nil)
	var all []*types.TokenMapping
	decode(t, w, &all)
	assert.Len(t, all, 1)
}
