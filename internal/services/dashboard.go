package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"tracker/internal/cache"
	"tracker/internal/core"
	"tracker/internal/observability"
	"tracker/internal/period"
)

// Dashboard bundles the three aggregates shown together to a user.
type Dashboard struct {
	Period      period.Token
	Daily       []core.DailyTotal
	ByType      []core.TypeCount
	ByCategory  []core.CategoryTotal
	GeneratedAt time.Time
}

// DashboardService loads dashboards concurrently and caches them per user
// and period until the user's records change.
type DashboardService struct {
	agg   *Aggregator
	cache cache.Cache[*Dashboard]
	group singleflight.Group

	// generations counts invalidations per user. A load only caches its
	// result if the count did not move while it was computing.
	mu          sync.Mutex
	generations map[string]uint64
}

// NewDashboardService builds the service. A nil cache disables caching.
func NewDashboardService(agg *Aggregator, c cache.Cache[*Dashboard]) *DashboardService {
	return &DashboardService{agg: agg, cache: c, generations: make(map[string]uint64)}
}

func dashboardKey(userID string, token period.Token) string {
	return userID + "|" + string(token)
}

// Load returns the user's dashboard for the given period.
func (d *DashboardService) Load(ctx context.Context, userID string, token period.Token) (*Dashboard, error) {
	if !token.IsValid() {
		token = period.Default
	}
	key := dashboardKey(userID, token)

	if d.cache != nil {
		if dash, ok := d.cache.Get(key); ok {
			observability.RecordCacheLookup(true)
			return dash, nil
		}
		observability.RecordCacheLookup(false)
	}

	gen := d.generation(userID)
	flight := key + "#" + strconv.FormatUint(gen, 10)
	ch := d.group.DoChan(flight, func() (any, error) {
		// Callers share the flight, so it must not end with the first one.
		dash, err := d.compute(context.WithoutCancel(ctx), userID, token)
		if err != nil {
			return nil, err
		}
		d.store(key, userID, gen, dash)
		return dash, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Dashboard), nil
	}
}

func (d *DashboardService) generation(userID string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generations[userID]
}

// store caches dash unless the user's records changed since gen was read.
func (d *DashboardService) store(key, userID string, gen uint64, dash *Dashboard) {
	if d.cache == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generations[userID] == gen {
		d.cache.Set(key, dash)
	}
}

func (d *DashboardService) compute(ctx context.Context, userID string, token period.Token) (*Dashboard, error) {
	dash := &Dashboard{Period: token, GeneratedAt: d.agg.now().In(d.agg.loc)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dash.Daily, err = d.agg.DailyTotals(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		dash.ByType, err = d.agg.ActivitiesByType(gctx, userID, token)
		return err
	})
	g.Go(func() error {
		var err error
		dash.ByCategory, err = d.agg.ExpensesByCategory(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dash, nil
}

// Invalidate drops every cached dashboard for the user and keeps loads
// already in flight from caching what they read.
func (d *DashboardService) Invalidate(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generations[userID]++
	if d.cache != nil {
		d.cache.DeletePrefix(userID + "|")
	}
}
