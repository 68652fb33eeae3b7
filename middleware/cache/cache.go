// Package cache short-circuits repeated queries with previously
// assembled answers. Entries are scoped to the geographic bucket of
// the asking client, age with their shortest TTL and are purged the
// moment any name they embed is mutated in the record store.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/singleflight"

	"github.com/drahnr/constellation/cache"
	"github.com/drahnr/constellation/config"
	"github.com/drahnr/constellation/dnsutil"
	"github.com/drahnr/constellation/geo"
	"github.com/drahnr/constellation/middleware"
	"github.com/drahnr/constellation/store"
)

// Cache type
type Cache struct {
	cache *cache.Cache

	geodb   *geo.Index
	degrees float64

	maxTTL time.Duration

	group singleflight.Group

	// owner name -> cache keys embedding it
	mu    sync.Mutex
	names map[string]map[uint64]struct{}

	// Testing.
	now func() time.Time
}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New return cache
func New(cfg *config.Config) *Cache {
	geodb, err := geo.Shared(cfg.GeoDB)
	if err != nil {
		zlog.Error("Geo database unavailable, all clients bucket together", "error", err.Error())
	}

	c := &Cache{
		cache:   cache.New(cfg.CacheSize),
		geodb:   geodb,
		degrees: cfg.GeoBucketDegrees,
		maxTTL:  time.Duration(cfg.Expire) * time.Second,
		names:   make(map[string]map[uint64]struct{}),
		now:     time.Now,
	}

	st, err := store.Open(cfg)
	if err != nil {
		zlog.Error("Record store unavailable for cache invalidation", "error", err.Error())
	} else {
		go c.watch(context.Background(), st)
	}

	return c
}

// Name return middleware name
func (c *Cache) Name() string { return name }

// ServeDNS implements the Handle interface.
func (c *Cache) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request

	if len(req.Question) == 0 {
		ch.CancelWithRcode(dns.RcodeFormatError, false)
		return
	}

	q := req.Question[0]
	if q.Qclass != dns.ClassINET {
		ch.Next(ctx)
		return
	}

	do := false
	if opt := req.IsEdns0(); opt != nil {
		do = opt.Do()
	}

	coord, known := c.geodb.Locate(w.RemoteIP())
	bucket := geo.Bucket(coord, known, c.degrees)

	key := cache.Key(q, do, bucket)
	now := c.now()

	if v, ok := c.cache.Get(key); ok {
		if msg := v.(*entry).ToMsg(req, now); msg != nil {
			cacheHits.Inc()
			_ = w.WriteMsg(msg)
			ch.Cancel()
			return
		}
		c.cache.Remove(key)
	}

	cacheMisses.Inc()

	res, _, _ := c.group.Do(strconv.FormatUint(key, 36), func() (any, error) {
		cw := &cacheWriter{ResponseWriter: ch.Writer}
		ch.Writer = cw
		ch.Next(ctx)
		ch.Writer = cw.ResponseWriter

		if cw.msg == nil {
			return nil, nil
		}

		ttl := dnsutil.CacheTTL(cw.msg, now)
		if c.maxTTL > 0 && ttl > c.maxTTL {
			ttl = c.maxTTL
		}

		e := newEntry(cw.msg, now, ttl, dnsutil.OwnerNames(cw.msg))
		if c.cacheable(cw.msg) && e.ttl > 0 {
			c.add(key, e)
		}
		return e, nil
	})

	if w.Written() {
		return
	}

	// Joined another in-flight resolution, answer from its result.
	if e, ok := res.(*entry); ok && e != nil {
		if msg := e.ToMsg(req, now); msg != nil {
			_ = w.WriteMsg(msg)
			ch.Cancel()
			return
		}
	}

	ch.Next(ctx)
}

// Purge drops every cached answer that embeds name, mutations take
// effect on the very next query.
func (c *Cache) Purge(qname string) {
	qname = store.CanonicalName(qname)

	c.mu.Lock()
	keys := c.names[qname]
	delete(c.names, qname)
	c.mu.Unlock()

	for key := range keys {
		c.cache.Remove(key)
	}

	if len(keys) > 0 {
		cachePurges.Inc()
	}
}

func (c *Cache) cacheable(msg *dns.Msg) bool {
	switch msg.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		return true
	}
	return false
}

func (c *Cache) add(key uint64, e *entry) {
	c.cache.Add(key, e)

	c.mu.Lock()
	for _, n := range e.names {
		keys, ok := c.names[n]
		if !ok {
			keys = make(map[uint64]struct{}, 1)
			c.names[n] = keys
		}
		keys[key] = struct{}{}
	}
	c.mu.Unlock()
}

func (c *Cache) watch(ctx context.Context, st store.Store) {
	for {
		events, err := st.Watch(ctx)
		if err != nil {
			zlog.Warn("Store watch failed, retrying", "error", err.Error())

			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
			continue
		}

		for ev := range events {
			c.Purge(ev.Name)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// cacheWriter snapshots the message before the outer stages dress it
// with per-request EDNS state.
type cacheWriter struct {
	middleware.ResponseWriter
	msg *dns.Msg
}

func (cw *cacheWriter) WriteMsg(m *dns.Msg) error {
	cw.msg = m.Copy()
	return cw.ResponseWriter.WriteMsg(m)
}

const name = "cache"
