package presence

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTTL is the inactivity window after which a silent session is
// evicted. DefaultSweepSpec runs the sweep every ten seconds.
const (
	DefaultTTL       = 30 * time.Second
	DefaultSweepSpec = "*/10 * * * * *"
)

// Sweeper periodically evicts sessions that stopped heartbeating. It
// runs on its own schedule, independent of any session's lifecycle;
// eviction flows through the same onEvict path as an explicit leave.
type Sweeper struct {
	registry *Registry
	ttl      time.Duration
	onEvict  func(Evicted)
	sched    *cron.Cron
}

// NewSweeper creates a sweeper over the registry. onEvict is called for
// each evicted record, outside the registry lock.
func NewSweeper(registry *Registry, ttl time.Duration, onEvict func(Evicted)) *Sweeper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Sweeper{registry: registry, ttl: ttl, onEvict: onEvict}
}

// Start schedules the periodic sweep.
func (s *Sweeper) Start() error {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(DefaultSweepSpec, s.Sweep); err != nil {
		return err
	}
	c.Start()
	s.sched = c
	return nil
}

// Stop halts the schedule. A sweep already running finishes.
func (s *Sweeper) Stop() {
	if s.sched != nil {
		s.sched.Stop()
	}
}

// Sweep runs one eviction pass.
func (s *Sweeper) Sweep() {
	evicted := s.registry.SweepStale(s.ttl)
	for _, e := range evicted {
		log.Printf("presence: evicted stale session %s from page %s", e.Record.SessionID, e.PageID)
		if s.onEvict != nil {
			s.onEvict(e)
		}
	}
}
