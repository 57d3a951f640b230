package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"registrar-backend/internal/catalog"
	"registrar-backend/internal/instrument"
)

// CycleChecker owns the catalog integrity scan: it analyzes the prerequisite
// graph, persists findings, and flags courses whose validation must halt.
type CycleChecker struct {
	registry *catalog.Registry
	cycles   CycleStore
}

func NewCycleChecker(registry *catalog.Registry, cycles CycleStore) *CycleChecker {
	return &CycleChecker{registry: registry, cycles: cycles}
}

// RunCheck performs a full scan. Unresolved findings from earlier scans are
// replaced; resolved findings stay on record. Courses on an unresolved
// critical cycle are flagged so validation reports the defect instead of a
// verdict.
func (c *CycleChecker) RunCheck(ctx context.Context) (*CatalogAnalysis, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "catalog", "integrity", "cycle.scan")
	defer span.End()

	analysis := AnalyzeCatalog(c.registry)
	span.SetMetadata("cycles", len(analysis.Cycles))
	span.SetMetadata("findings", len(analysis.Findings))

	if err := c.cycles.ReplaceUnresolved(ctx, analysis.Findings); err != nil {
		span.SetStatus("error")
		return nil, fmt.Errorf("persist findings: %w", err)
	}

	c.registry.SetCycleFlags(analysis.CriticalCourses())

	if len(analysis.Cycles) > 0 {
		log.Printf("WARN: catalog integrity scan found %d cycle(s), %d affected course(s)",
			len(analysis.Cycles), len(analysis.Findings))
	}
	span.SetStatus("ok")
	return analysis, nil
}

// Resolve marks one finding resolved and recomputes the validation flags
// from what remains unresolved. The next scheduled scan re-detects the cycle
// if the offending rules were not actually fixed.
func (c *CycleChecker) Resolve(ctx context.Context, id, actor string) (*CircularDependencyResult, error) {
	finding, err := c.cycles.ResolveFinding(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	flags, err := c.cycles.UnresolvedCriticalCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("recompute cycle flags: %w", err)
	}
	c.registry.SetCycleFlags(flags)
	return finding, nil
}

// CycleScheduler reruns the integrity scan on a fixed interval so findings
// stay fresh even if a rule edit slipped past the post-edit trigger.
type CycleScheduler struct {
	checker  *CycleChecker
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
}

func NewCycleScheduler(checker *CycleChecker, interval time.Duration) *CycleScheduler {
	return &CycleScheduler{checker: checker, interval: interval}
}

// Start begins the background ticker.
func (cs *CycleScheduler) Start() {
	cs.ticker = time.NewTicker(cs.interval)
	cs.done = make(chan struct{})
	go cs.run()
	log.Printf("Cycle scheduler started (%s interval)", cs.interval)
}

// Stop halts the background ticker.
func (cs *CycleScheduler) Stop() {
	if cs.ticker != nil {
		cs.ticker.Stop()
	}
	if cs.done != nil {
		close(cs.done)
	}
}

func (cs *CycleScheduler) run() {
	for {
		select {
		case <-cs.done:
			return
		case <-cs.ticker.C:
			if _, err := cs.checker.RunCheck(context.Background()); err != nil {
				log.Printf("ERROR: scheduled cycle scan: %v", err)
			}
		}
	}
}
