package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"PShop/tools/errs"
)

// PresenceConfig 在线状态镜像配置
type PresenceConfig struct {
	Prefix string        // key 前缀，默认 pshop
	NodeID string        // 写入哪个网关节点
	TTL    time.Duration // 条目过期时间，网关宕机后自然清理
}

// Online user as other processes read it.
type OnlineRecord struct {
	UserID string
	ConnID string
	Role   string
	Name   string
	NodeID string
	Since  time.Time
}

// RedisPresence mirrors the gateway presence registry into redis:
//
//	<prefix>:presence:<user>  hash {conn, role, name, node, since}, expires after TTL
//	<prefix>:online           zset user -> expireAt unix ms
type RedisPresence struct {
	rdb  redis.UniversalClient
	conf PresenceConfig
	now  func() time.Time
}

func NewRedisPresence(rdb redis.UniversalClient, conf PresenceConfig) *RedisPresence {
	if conf.Prefix == "" {
		conf.Prefix = "pshop"
	}
	if conf.TTL <= 0 {
		conf.TTL = 2 * time.Hour
	}
	return &RedisPresence{rdb: rdb, conf: conf, now: time.Now}
}

func (p *RedisPresence) userKey(userID string) string { return p.conf.Prefix + ":presence:" + userID }
func (p *RedisPresence) indexKey() string            { return p.conf.Prefix + ":online" }

// KEYS[1] user hash, KEYS[2] online index
// ARGV: user, conn, role, name, node, sinceMs, ttlMs, expireAtMs
var luaOnline = redis.NewScript(`
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "conn", ARGV[2], "role", ARGV[3], "name", ARGV[4], "node", ARGV[5], "since", ARGV[6])
redis.call("PEXPIRE", KEYS[1], ARGV[7])
redis.call("ZADD", KEYS[2], ARGV[8], ARGV[1])
return 1
`)

func (p *RedisPresence) Online(ctx context.Context, userID, role, name, connID string) error {
	now := p.now()
	err := luaOnline.Run(ctx, p.rdb,
		[]string{p.userKey(userID), p.indexKey()},
		userID, connID, role, name, p.conf.NodeID,
		now.UnixMilli(), p.conf.TTL.Milliseconds(), now.Add(p.conf.TTL).UnixMilli(),
	).Err()
	return errs.WrapMsg(err, "presence online", "user", userID)
}

func (p *RedisPresence) Offline(ctx context.Context, userID string) error {
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, p.userKey(userID))
		pipe.ZRem(ctx, p.indexKey(), userID)
		return nil
	})
	return errs.WrapMsg(err, "presence offline", "user", userID)
}

// Lookup reads one user; ok is false when offline.
func (p *RedisPresence) Lookup(ctx context.Context, userID string) (rec OnlineRecord, ok bool, err error) {
	m, err := p.rdb.HGetAll(ctx, p.userKey(userID)).Result()
	if err != nil {
		return OnlineRecord{}, false, errs.WrapMsg(err, "presence lookup", "user", userID)
	}
	if len(m) == 0 {
		return OnlineRecord{}, false, nil
	}
	return parseRecord(userID, m), true, nil
}

// List prunes expired index entries and returns everyone still online.
func (p *RedisPresence) List(ctx context.Context) ([]OnlineRecord, error) {
	nowMs := strconv.FormatInt(p.now().UnixMilli(), 10)
	if err := p.rdb.ZRemRangeByScore(ctx, p.indexKey(), "-inf", "("+nowMs).Err(); err != nil {
		return nil, errs.WrapMsg(err, "presence prune")
	}
	users, err := p.rdb.ZRange(ctx, p.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "presence index")
	}
	if len(users) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(users))
	_, err = p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, u := range users {
			cmds[i] = pipe.HGetAll(ctx, p.userKey(u))
		}
		return nil
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "presence read")
	}
	out := make([]OnlineRecord, 0, len(users))
	for i, u := range users {
		m := cmds[i].Val()
		if len(m) == 0 {
			continue
		}
		out = append(out, parseRecord(u, m))
	}
	return out, nil
}

func parseRecord(userID string, m map[string]string) OnlineRecord {
	rec := OnlineRecord{
		UserID: userID,
		ConnID: m["conn"],
		Role:   m["role"],
		Name:   m["name"],
		NodeID: m["node"],
	}
	if ms, err := strconv.ParseInt(m["since"], 10, 64); err == nil {
		rec.Since = time.UnixMilli(ms).UTC()
	}
	return rec
}
