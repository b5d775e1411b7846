package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gomodule/redigo/redis"

	"gobridgeledger/types"
)

func (s *Store) GetMapping(ctx context.Context, home common.Address, chainID uint64) (*types.TokenMapping, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var m types.TokenMapping
	found, err := getJSON(conn, mappingKey(home, chainID), &m)
	if err != nil || !found {
		return nil, err
	}
	return &m, nil
}

// GetMappingByRemote resolves a representation token back to its mapping
func (s *Store) GetMappingByRemote(ctx context.Context, remote common.Address, chainID uint64) (*types.TokenMapping, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	home, err := redis.String(conn.Do("GET", mappingRemoteKey(remote, chainID)))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m types.TokenMapping
	found, err := getJSON(conn, mappingKey(common.HexToAddress(home), chainID), &m)
	if err != nil || !found {
		return nil, err
	}
	// the index may point at a mapping that was re-created with another representation
	if m.RemoteToken != remote {
		return nil, nil
	}
	return &m, nil
}

func (s *Store) ListMappings(ctx context.Context) ([]*types.TokenMapping, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	keys, err := redis.Strings(conn.Do("SMEMBERS", keyMappings))
	if err != nil {
		return nil, err
	}
	mappings := make([]*types.TokenMapping, 0, len(keys))
	for _, key := range keys {
		var m types.TokenMapping
		found, err := getJSON(conn, key, &m)
		if err != nil {
			return nil, err
		}
		if found {
			mappings = append(mappings, &m)
		}
	}
	return mappings, nil
}

// CreateMapping stores a new active mapping and, if the token has none yet, its default limits.
// An inactive record for the same pair is archived to the history list first and the new record
// takes the next generation. The representation token must not back another active mapping on
// the chain; the remote index is watched so two concurrent creates cannot both claim it.
func (s *Store) CreateMapping(ctx context.Context, m *types.TokenMapping, defaults *types.BridgeLimits, rec *types.Record) error {
	key := mappingKey(m.HomeToken, m.RemoteChainID)
	rkey := mappingRemoteKey(m.RemoteToken, m.RemoteChainID)
	lkey := limitsKey(m.HomeToken)

	return s.transact(ctx, []string{key, rkey, lkey}, func(conn redis.Conn) ([]command, error) {
		var cmds []command

		owner, err := redis.String(conn.Do("GET", rkey))
		if err != nil && !errors.Is(err, redis.ErrNil) {
			return nil, err
		}
		if owner != "" && owner != addrKey(m.HomeToken) {
			okey := mappingKey(common.HexToAddress(owner), m.RemoteChainID)
			if _, err := conn.Do("WATCH", okey); err != nil {
				return nil, err
			}
			var taken types.TokenMapping
			found, err := getJSON(conn, okey, &taken)
			if err != nil {
				return nil, err
			}
			if found && taken.Active && taken.RemoteToken == m.RemoteToken {
				return nil, types.Errorf(types.ErrMappingExists, "%s on chain %d already represents %s", m.RemoteToken.Hex(), m.RemoteChainID, taken.HomeToken.Hex())
			}
		}

		var prev types.TokenMapping
		found, err := getJSON(conn, key, &prev)
		if err != nil {
			return nil, err
		}
		m.Generation = 1
		if found {
			if prev.Active {
				return nil, types.Errorf(types.ErrMappingExists, "%s on chain %d", m.HomeToken.Hex(), m.RemoteChainID)
			}
			m.Generation = prev.Generation + 1
			cmds = append(cmds, cmd("RPUSH", mappingHistoryKey(m.HomeToken, m.RemoteChainID), mustJSON(prev)))
		}

		hasLimits, err := redis.Bool(conn.Do("EXISTS", lkey))
		if err != nil {
			return nil, err
		}
		if !hasLimits && defaults != nil {
			cmds = append(cmds, cmd("SET", lkey, mustJSON(defaults)))
		}

		cmds = append(cmds,
			cmd("SET", key, mustJSON(m)),
			cmd("SET", rkey, addrKey(m.HomeToken)),
			cmd("SADD", keyMappings, key),
		)
		return append(cmds, recordCmds(rec)...), nil
	})
}

// DeactivateMapping flips active off, it reports false when there was nothing to change
func (s *Store) DeactivateMapping(ctx context.Context, home common.Address, chainID uint64, at int64, rec *types.Record) (bool, error) {
	key := mappingKey(home, chainID)
	changed := false

	err := s.transact(ctx, []string{key}, func(conn redis.Conn) ([]command, error) {
		changed = false

		var m types.TokenMapping
		found, err := getJSON(conn, key, &m)
		if err != nil {
			return nil, err
		}
		if !found || !m.Active {
			return nil, nil
		}
		m.Active = false
		m.DeactivatedAt = at
		changed = true
		return append([]command{cmd("SET", key, mustJSON(m))}, recordCmds(rec)...), nil
	})
	return changed, err
}

// MappingHistory returns archived records of a pair, oldest first
func (s *Store) MappingHistory(ctx context.Context, home common.Address, chainID uint64) ([]*types.TokenMapping, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	items, err := redis.ByteSlices(conn.Do("LRANGE", mappingHistoryKey(home, chainID), 0, -1))
	if err != nil {
		return nil, err
	}
	out := make([]*types.TokenMapping, 0, len(items))
	for _, item := range items {
		var m types.TokenMapping
		if err := json.Unmarshal(item, &m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, nil
}

func (s *Store) GetLimits(ctx context.Context, home common.Address) (*types.BridgeLimits, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var l types.BridgeLimits
	found, err := getJSON(conn, limitsKey(home), &l)
	if err != nil || !found {
		return nil, err
	}
	return &l, nil
}

func (s *Store) SetLimits(ctx context.Context, home common.Address, limits *types.BridgeLimits, rec *types.Record) error {
	return s.transact(ctx, nil, func(conn redis.Conn) ([]command, error) {
		return append([]command{cmd("SET", limitsKey(home), mustJSON(limits))}, recordCmds(rec)...), nil
	})
}
