package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// FakeStore is an in-memory Store for tests. Scoring is cosine similarity.
type FakeStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Point
	failNext    error
}

// NewFakeStore creates an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{collections: make(map[string]map[string]Point)}
}

// FailNext makes the next operation return err.
func (f *FakeStore) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

func (f *FakeStore) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *FakeStore) EnsureSchema(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	return nil
}

func (f *FakeStore) collection(name string) map[string]Point {
	c, ok := f.collections[name]
	if !ok {
		c = make(map[string]Point)
		f.collections[name] = c
	}
	return c
}

func (f *FakeStore) Upsert(ctx context.Context, collection string, points []Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	c := f.collection(collection)
	for _, p := range points {
		c[p.ID] = p
	}
	return nil
}

func (f *FakeStore) Query(ctx context.Context, collection string, vector []float32, filter *Filter, limit int) ([]ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	var results []ScoredPoint
	for _, p := range f.collection(collection) {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		results = append(results, ScoredPoint{Point: p, Score: cosine(vector, p.Vector)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *FakeStore) Scroll(ctx context.Context, collection string, filter *Filter, limit int, offset string) ([]Point, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, "", err
	}
	var all []Point
	for _, p := range f.collection(collection) {
		if matchesFilter(p.Payload, filter) {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	start := 0
	if offset != "" {
		for i, p := range all {
			if p.ID == offset {
				start = i
				break
			}
		}
	}
	end := len(all)
	next := ""
	if limit > 0 && start+limit < len(all) {
		end = start + limit
		next = all[end].ID
	}
	return all[start:end], next, nil
}

func (f *FakeStore) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	c := f.collection(collection)
	for _, id := range ids {
		p, ok := c[id]
		if !ok {
			continue
		}
		merged := make(map[string]any, len(p.Payload)+len(payload))
		for k, v := range p.Payload {
			merged[k] = v
		}
		for k, v := range payload {
			merged[k] = v
		}
		p.Payload = merged
		c[id] = p
	}
	return nil
}

func (f *FakeStore) Delete(ctx context.Context, collection string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	c := f.collection(collection)
	for _, id := range ids {
		delete(c, id)
	}
	return nil
}

func (f *FakeStore) Count(ctx context.Context, collection string, filter *Filter) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return 0, err
	}
	var n uint64
	for _, p := range f.collection(collection) {
		if matchesFilter(p.Payload, filter) {
			n++
		}
	}
	return n, nil
}

func (f *FakeStore) Health(ctx context.Context) error { return nil }
func (f *FakeStore) Close() error                     { return nil }

// Get returns a stored point by id, for test assertions.
func (f *FakeStore) Get(collection, id string) (Point, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.collection(collection)[id]
	return p, ok
}

func matchesFilter(payload map[string]any, filter *Filter) bool {
	if filter == nil {
		return true
	}
	for _, cond := range filter.Must {
		value, ok := payload[cond.Field]
		if !ok {
			return false
		}
		switch want := cond.Match.(type) {
		case []string:
			found := false
			for _, w := range want {
				if equalPayloadValue(value, w) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if !equalPayloadValue(value, want) {
				return false
			}
		}
	}
	return true
}

func equalPayloadValue(have, want any) bool {
	// Integers round-trip through the store as int64.
	if hi, ok := have.(int64); ok {
		if wi, ok := want.(int); ok {
			return hi == int64(wi)
		}
	}
	if hi, ok := have.(int); ok {
		if wi, ok := want.(int64); ok {
			return int64(hi) == wi
		}
	}
	return fmt.Sprint(have) == fmt.Sprint(want)
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
