package memory

import (
	"errors"
	"log"
	"sort"
	"time"
)

// RotationPolicy keeps the store within its cap by evicting the least
// valuable memories.
//
// Each memory is scored as
//
//	score = access_count - age_in_days/half_life_days
//
// so a memory unused for one half-life loses one access count worth of
// priority. The top quartile by access count is protected and never
// evicted regardless of score; the lowest-scoring candidates go first,
// oldest first on ties.
type RotationPolicy struct {
	cap          int
	halfLifeDays float64
	now          func() time.Time
}

// NewRotationPolicy builds a policy from the config's cap and half-life.
func NewRotationPolicy(config *Config) *RotationPolicy {
	cfg := config.withDefaults()
	return &RotationPolicy{
		cap:          cfg.RotationCap,
		halfLifeDays: cfg.HalfLifeDays,
		now:          time.Now,
	}
}

// Cap returns the configured maximum store size.
func (p *RotationPolicy) Cap() int {
	return p.cap
}

// Score computes the importance score of a record at the current time.
func (p *RotationPolicy) Score(rec *Record) float64 {
	ageDays := p.now().Sub(rec.Timestamp).Hours() / 24
	return float64(rec.AccessCount) - ageDays/p.halfLifeDays
}

// MaybeEvict removes memories until the store is back at the cap. Removal
// of a record and its embedding is one logical operation: the record goes
// first, and an embedding removal failure leaves a logged orphan for the
// repair scan rather than a silent re-add. Returns the evicted ids.
func (p *RotationPolicy) MaybeEvict(store Store, index Index) []string {
	if store.Len() <= p.cap {
		return nil
	}

	all := store.All()
	protected := p.protectedSet(all)

	candidates := make([]*Record, 0, len(all))
	for _, rec := range all {
		if _, ok := protected[rec.ID]; ok {
			continue
		}
		candidates = append(candidates, rec)
	}

	// Lowest score first; ties go to the oldest, then id for determinism.
	scores := make(map[string]float64, len(candidates))
	for _, rec := range candidates {
		scores[rec.ID] = p.Score(rec)
	}
	sort.Slice(candidates, func(i, j int) bool {
		si, sj := scores[candidates[i].ID], scores[candidates[j].ID]
		if si != sj {
			return si < sj
		}
		if !candidates[i].Timestamp.Equal(candidates[j].Timestamp) {
			return candidates[i].Timestamp.Before(candidates[j].Timestamp)
		}
		return candidates[i].ID < candidates[j].ID
	})

	var evicted []string
	for _, rec := range candidates {
		if store.Len() <= p.cap {
			break
		}
		if err := store.Remove(rec.ID); err != nil {
			log.Printf("[ROTATION] evict %s: %v", rec.ID, err)
			continue
		}
		if err := index.Remove(rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
			log.Printf("[ROTATION] embedding for %s not removed, orphan left for repair: %v", rec.ID, err)
		}
		evicted = append(evicted, rec.ID)
	}
	if len(evicted) > 0 {
		log.Printf("[ROTATION] evicted %d memories (cap %d)", len(evicted), p.cap)
	}
	return evicted
}

// protectedSet returns the ids of the top quartile by access count,
// bounded above by the cap. Ordering within equal access counts is newest
// first, then id, so the quartile boundary is deterministic.
func (p *RotationPolicy) protectedSet(all []*Record) map[string]struct{} {
	if len(all) == 0 {
		return nil
	}
	byAccess := make([]*Record, len(all))
	copy(byAccess, all)
	sort.Slice(byAccess, func(i, j int) bool {
		if byAccess[i].AccessCount != byAccess[j].AccessCount {
			return byAccess[i].AccessCount > byAccess[j].AccessCount
		}
		if !byAccess[i].Timestamp.Equal(byAccess[j].Timestamp) {
			return byAccess[i].Timestamp.After(byAccess[j].Timestamp)
		}
		return byAccess[i].ID < byAccess[j].ID
	})

	n := (len(all) + 3) / 4 // ceil(n/4)
	if n > p.cap {
		// Protection yields to the cap; otherwise a store loaded far above
		// a reduced cap could never evict down to it.
		n = p.cap
	}
	protected := make(map[string]struct{}, n)
	for _, rec := range byAccess[:n] {
		protected[rec.ID] = struct{}{}
	}
	return protected
}
