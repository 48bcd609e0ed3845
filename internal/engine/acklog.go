package engine

import (
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/lightmesh/internal/directory"
)

// AckLogConfig bounds how long a liveness acknowledgement stays visible.
type AckLogConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// AckRecord is the last acknowledgement seen from one slot. It is
// informational: nothing acts on a slot going quiet.
type AckRecord struct {
	Slot    int       `json:"slot"`
	Address string    `json:"address"`
	Seen    time.Time `json:"seen"`
	Count   uint64    `json:"count"`
}

// AckLog keeps the latest acknowledgement per slot in an expiring cache.
type AckLog struct {
	c   *cache.Cache
	ttl time.Duration
	now func() time.Time
}

func NewAckLog(cfg AckLogConfig) *AckLog {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = cfg.TTL
	}
	return &AckLog{
		c:   cache.New(cfg.TTL, cfg.CleanupInterval),
		ttl: cfg.TTL,
		now: time.Now,
	}
}

func (l *AckLog) Record(slot uint8, src directory.Address) {
	key := strconv.Itoa(int(slot))
	rec := AckRecord{Slot: int(slot), Address: src.String(), Seen: l.now()}
	if prev, ok := l.c.Get(key); ok {
		rec.Count = prev.(AckRecord).Count
	}
	rec.Count++
	l.c.Set(key, rec, cache.DefaultExpiration)
	slog.Debug("liveness ack", "slot", int(slot), "src", rec.Address)
}

// Snapshot returns the unexpired records ordered by slot.
func (l *AckLog) Snapshot() []AckRecord {
	items := l.c.Items()
	out := make([]AckRecord, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(AckRecord))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}
