package infra

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

func TestMemoryStatsStore_CountsByClassAndRoute(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Key: "ai:user:1", Class: domain.ClassAI, Allowed: true, Method: "POST", Path: "/api/evaluate"})
	_ = s.Record(ctx, domain.StatsEvent{Key: "ai:user:1", Class: domain.ClassAI, Allowed: false, Method: "POST", Path: "/api/evaluate"})
	_ = s.Record(ctx, domain.StatsEvent{Key: "default:ip:1.2.3.4", Class: domain.ClassDefault, Allowed: true, Method: "GET", Path: "/"})

	if got := s.Total(); got.Allowed != 2 || got.Denied != 1 {
		t.Fatalf("unexpected total %+v", got)
	}
	if got := s.ByClass()[domain.ClassAI]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected ai counters %+v", got)
	}
	if got := s.ByRoute()["POST /api/evaluate"]; got.Denied != 1 {
		t.Fatalf("unexpected route counters %+v", got)
	}
	snap := s.Snapshot()
	if snap.ByKey["ai:user:1"].Allowed != 1 {
		t.Fatalf("expected per-key counters when tracking keys, got %+v", snap.ByKey)
	}
}

func TestMemoryStatsStore_NoKeysUnlessTracked(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Key: "k", Allowed: true})
	if len(s.ByKey()) != 0 {
		t.Fatalf("expected no per-key counters")
	}
	if s.Snapshot().ByKey != nil {
		t.Fatalf("expected snapshot without keys")
	}
}

func TestSQLiteStatsStore_RecordAndSummary(t *testing.T) {
	s, err := OpenSQLiteStatsStore(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	events := []domain.StatsEvent{
		{Key: "auth:ip:1.1.1.1", Class: domain.ClassAuth, Allowed: true, Method: "POST", Path: "/api/auth/login", At: base},
		{Key: "auth:ip:1.1.1.1", Class: domain.ClassAuth, Allowed: false, Method: "POST", Path: "/api/auth/login", At: base.Add(time.Second)},
		{Key: "ai:user:7", Class: domain.ClassAI, Allowed: true, Method: "POST", Path: "/api/rewrite", At: base.Add(2 * time.Second)},
	}
	for _, ev := range events {
		if err := s.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, time.Time{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(sum) != 2 {
		t.Fatalf("expected 2 classes, got %+v", sum)
	}
	if sum[0].Class != domain.ClassAI || sum[0].Allowed != 1 {
		t.Fatalf("unexpected ai summary %+v", sum[0])
	}
	if sum[1].Class != domain.ClassAuth || sum[1].Allowed != 1 || sum[1].Denied != 1 {
		t.Fatalf("unexpected auth summary %+v", sum[1])
	}

	n, err := s.Prune(ctx, base.Add(1500*time.Millisecond))
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rows pruned, got %d err=%v", n, err)
	}
	sum, _ = s.Summary(ctx, time.Time{})
	if len(sum) != 1 || sum[0].Class != domain.ClassAI {
		t.Fatalf("expected only ai left, got %+v", sum)
	}
}

func TestChanPool_ReleaseIsIdempotent(t *testing.T) {
	p := NewChanPool(1)

	release, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected slot")
	}
	release()
	release()
	if p.InUse() != 0 {
		t.Fatalf("expected 0 in use, got %d", p.InUse())
	}

	r1, _ := p.Acquire(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected pool to be full")
	}
	r1()
}

func TestMemoryStatsStore_RouteAndKeyMapsAreCapped(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true), WithMaxEntries(10))
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		_ = s.Record(ctx, domain.StatsEvent{
			Key:     domain.Key("default:ip:10.0.0." + strconv.Itoa(i)),
			Class:   domain.ClassDefault,
			Allowed: true,
			Method:  "GET",
			Path:    "/api/drafts/" + strconv.Itoa(i),
		})
	}

	routes := s.ByRoute()
	if len(routes) != 11 {
		t.Fatalf("expected 10 routes plus overflow, got %d", len(routes))
	}
	if got := routes[OverflowBucket].Allowed; got != 990 {
		t.Fatalf("expected 990 events in overflow, got %d", got)
	}
	if n := len(s.ByKey()); n != 11 {
		t.Fatalf("expected 10 keys plus overflow, got %d", n)
	}
	if got := s.Total().Allowed; got != 1000 {
		t.Fatalf("expected total 1000, got %d", got)
	}
}

func TestMemoryStatsStore_PrefersRuleRouteOverPath(t *testing.T) {
	s := NewMemoryStatsStore()
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		_ = s.Record(ctx, domain.StatsEvent{
			Class:   domain.ClassAI,
			Allowed: true,
			Method:  "POST",
			Path:    "/api/drafts/" + id + "/assistant",
			Route:   "/api/drafts/{draftID}/assistant",
		})
	}

	routes := s.ByRoute()
	if len(routes) != 1 || routes["POST /api/drafts/{draftID}/assistant"].Allowed != 3 {
		t.Fatalf("expected one route with 3 events, got %+v", routes)
	}
}
