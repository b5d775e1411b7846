package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gomodule/redigo/redis"

	"gobridgeledger/types"
)

// redis key layout
const (
	keyOpsNonce      = "ops:nonce"
	keyUndispatched  = "ops:undispatched"
	keyMappings      = "mappings"
	keyPaused        = "bridge:paused"
	keyRecords       = "records"
	RecordsChannel   = "bridge:records"
	maxTxRetries     = 8
	maxTxConflicts   = 64
	defaultListLimit = 100
)

var errTxConflict = errors.New("redis transaction conflict, retries exhausted")

func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func mappingKey(home common.Address, chainID uint64) string {
	return fmt.Sprintf("mapping:%s:%d", addrKey(home), chainID)
}

func mappingRemoteKey(remote common.Address, chainID uint64) string {
	return fmt.Sprintf("mapping:remote:%s:%d", addrKey(remote), chainID)
}

func mappingHistoryKey(home common.Address, chainID uint64) string {
	return fmt.Sprintf("mapping:history:%s:%d", addrKey(home), chainID)
}

func limitsKey(home common.Address) string {
	return "limits:" + addrKey(home)
}

func volumeKey(home common.Address, day string) string {
	return fmt.Sprintf("volume:%s:%s", addrKey(home), day)
}

func opKey(id common.Hash) string {
	return "bridgeop:" + id.Hex()
}

func resolvingKey(id common.Hash) string {
	return "bridgeop:resolving:" + id.Hex()
}

func dispatchingKey(id common.Hash) string {
	return "bridgeop:dispatching:" + id.Hex()
}

func userOpsKey(user common.Address) string {
	return "bridgeops:user:" + addrKey(user)
}

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

// Store keeps all ledger, registry and backend state in redis.
// Every multi-key mutation goes through WATCH/MULTI/EXEC so it commits all-or-nothing.
type Store struct {
	pool *redis.Pool
}

func NewPool(addr string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 240 * time.Second,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", addr, timeoutDialOptions()...) },
	}
}

func New(pool *redis.Pool) *Store {
	return &Store{pool: pool}
}

// Open dials host:port and checks the connection, without persistence the bridge should not start
func Open(ctx context.Context, host string, port int) (*Store, error) {
	s := New(NewPool(fmt.Sprintf("%s:%d", host, port)))
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("PING")
	return err
}

func (s *Store) Close() error {
	return s.pool.Close()
}

type command struct {
	name string
	args []interface{}
}

func cmd(name string, args ...interface{}) command {
	return command{name: name, args: args}
}

// tx is the body of a transaction, it may WATCH more keys while reading
// and returns the commands to run inside MULTI/EXEC
type tx func(conn redis.Conn) ([]command, error)

// transact watches keys, runs body and commits, retrying with a jittered backoff
// when a watched key changed
func (s *Store) transact(ctx context.Context, keys []string, body tx) error {
	for attempt := 0; attempt < maxTxConflicts; attempt++ {
		committed, err := s.try(ctx, keys, body)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
		if err := conflictBackoff(ctx, attempt); err != nil {
			return err
		}
	}
	return types.Wrap(types.ErrInternal, errTxConflict, "")
}

func conflictBackoff(ctx context.Context, attempt int) error {
	if attempt > 6 {
		attempt = 6
	}
	d := time.Duration(rand.Int63n(int64(time.Millisecond) << uint(attempt)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (s *Store) try(ctx context.Context, keys []string, body tx) (bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if len(keys) > 0 {
		if _, err := conn.Do("WATCH", redis.Args{}.AddFlat(keys)...); err != nil {
			return false, err
		}
	}

	cmds, err := body(conn)
	if err != nil {
		conn.Do("UNWATCH")
		return false, err
	}
	if len(cmds) == 0 {
		conn.Do("UNWATCH")
		return true, nil
	}

	if err := conn.Send("MULTI"); err != nil {
		return false, err
	}
	for _, c := range cmds {
		if err := conn.Send(c.name, c.args...); err != nil {
			return false, err
		}
	}
	_, err = redis.Values(conn.Do("EXEC"))
	if errors.Is(err, redis.ErrNil) {
		// a watched key changed
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func getJSON(conn redis.Conn, key string, out interface{}) (bool, error) {
	data, err := redis.Bytes(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("cannot unmarshal %s: %w", key, err)
	}
	return true, nil
}

func getBig(conn redis.Conn, key string) (*big.Int, error) {
	s, err := redis.String(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt integer at %s: %q", key, s)
	}
	return v, nil
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// all persisted types are plain structs
		panic(fmt.Sprintf("cannot marshal %T: %v", v, err))
	}
	return data
}

// recordCmds appends a lifecycle record to the audit list and publishes it
func recordCmds(rec *types.Record) []command {
	if rec == nil {
		return nil
	}
	data := mustJSON(rec)
	return []command{
		cmd("RPUSH", keyRecords, data),
		cmd("PUBLISH", RecordsChannel, data),
	}
}

// AppendRecord stores a standalone lifecycle record
func (s *Store) AppendRecord(ctx context.Context, rec *types.Record) error {
	return s.transact(ctx, nil, func(conn redis.Conn) ([]command, error) {
		return recordCmds(rec), nil
	})
}

// Records returns lifecycle records in emission order, Data is left as generic JSON
func (s *Store) Records(ctx context.Context, offset, limit int) ([]*types.Record, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if limit <= 0 {
		limit = defaultListLimit
	}
	items, err := redis.ByteSlices(conn.Do("LRANGE", keyRecords, offset, offset+limit-1))
	if err != nil {
		return nil, err
	}
	recs := make([]*types.Record, 0, len(items))
	for _, item := range items {
		var rec types.Record
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}

func (s *Store) SetPaused(ctx context.Context, paused bool, rec *types.Record) error {
	return s.transact(ctx, nil, func(conn redis.Conn) ([]command, error) {
		cmds := []command{cmd("DEL", keyPaused)}
		if paused {
			cmds = []command{cmd("SET", keyPaused, 1)}
		}
		return append(cmds, recordCmds(rec)...), nil
	})
}

func (s *Store) IsPaused(ctx context.Context) (bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	return redis.Bool(conn.Do("EXISTS", keyPaused))
}
