package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPresenceKeys(t *testing.T) {
	p := NewRedisPresence(nil, PresenceConfig{})
	assert.Equal(t, "pshop:presence:u1", p.userKey("u1"))
	assert.Equal(t, "pshop:online", p.indexKey())
	assert.Equal(t, 2*time.Hour, p.conf.TTL)

	p = NewRedisPresence(nil, PresenceConfig{Prefix: "stage", TTL: time.Minute})
	assert.Equal(t, "stage:presence:u1", p.userKey("u1"))
}

func TestParseRecord(t *testing.T) {
	since := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	rec := parseRecord("u1", map[string]string{
		"conn": "c-1", "role": "vendor", "name": "Vera", "node": "1",
		"since": "1735718400000",
	})
	assert.Equal(t, OnlineRecord{UserID: "u1", ConnID: "c-1", Role: "vendor", Name: "Vera", NodeID: "1", Since: since}, rec)

	rec = parseRecord("u2", map[string]string{"since": "garbage"})
	assert.True(t, rec.Since.IsZero())
}
