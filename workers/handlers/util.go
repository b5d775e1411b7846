package handlers

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi"

	"gobridgeledger/types"
)

// request bodies above this are refused
const maxBodySize = 1 << 20

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

// responseError writes a typed error with its own HTTP status, untyped errors become 500
func responseError(w http.ResponseWriter, err error) {
	e := types.AsError(err)
	code := e.HTTPStatus
	if code == 0 {
		code = http.StatusInternalServerError
	}
	responseJSON(w, &APIResponse{
		Status:  "error",
		Kind:    string(e.Kind),
		Message: e.Message,
	}, code)
}

// fieldError is a 400 naming the offending request field
func fieldError(w http.ResponseWriter, field, message string) {
	responseJSON(w, &APIResponse{
		Status:  "error",
		Kind:    string(types.ErrInvalidRequest.Kind),
		Field:   field,
		Message: message,
	}, http.StatusBadRequest)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(io.LimitReader(r.Body, maxBodySize))
}

func decodeBody(body []byte, out interface{}) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// parseAddress accepts a 0x-prefixed hex address and checks it after checksumming
func parseAddress(s string) (common.Address, bool) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	addr := common.HexToAddress(s)
	if err := ethav.Validate(addr.Hex()); err != nil {
		return common.Address{}, false
	}
	return addr, true
}

func parseHash(s string) (common.Hash, bool) {
	s = strings.TrimSpace(s)
	if len(strings.TrimPrefix(s, "0x")) != 2*common.HashLength {
		return common.Hash{}, false
	}
	h := common.HexToHash(s)
	return h, h != (common.Hash{})
}

func parseAmount(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func parseChain(s string) (uint64, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	return v, err == nil && v > 0
}

// queryInt reads a non-negative integer query parameter, def when absent
func queryInt(r *http.Request, name string, def int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, true
	}
	v, err := strconv.Atoi(s)
	return v, err == nil && v >= 0
}

func urlAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	addr, ok := parseAddress(chi.URLParam(r, name))
	if !ok {
		fieldError(w, name, "No ethereum address or invalid address provided")
	}
	return addr, ok
}

func urlChain(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	chainID, ok := parseChain(chi.URLParam(r, name))
	if !ok {
		fieldError(w, name, "Invalid chain id")
	}
	return chainID, ok
}

func urlHash(w http.ResponseWriter, r *http.Request, name string) (common.Hash, bool) {
	h, ok := parseHash(chi.URLParam(r, name))
	if !ok {
		fieldError(w, name, "Invalid 32 byte hex id")
	}
	return h, ok
}
