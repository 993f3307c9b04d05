package manager

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// staleChannels tracks composite channel ids (connection_id + channel_id)
// that were recently closed, so a frame that was already in flight when
// CloseChannel landed is dropped instead of being misrouted if the same
// channel id gets reused by a later OpenChannel on the same connection.
// Built on the same patrickmn/go-cache TTL cache cppla-moto uses for its
// connect-ip throttle (controller/server.go's ipCache): both are "have we
// seen this key recently" questions with a natural expiry, so one library
// answers both rather than adding a bloom filter for a second.
type staleChannels struct {
	c *cache.Cache
}

func newStaleChannels(ttl time.Duration) *staleChannels {
	return &staleChannels{c: cache.New(ttl, ttl/2)}
}

func (s *staleChannels) mark(composite string) {
	s.c.Set(composite, struct{}{}, cache.DefaultExpiration)
}

func (s *staleChannels) isStale(composite string) bool {
	_, found := s.c.Get(composite)
	return found
}
