package kv

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// LocalStore implements Store in process memory. It is safe for concurrent
// use; all operations hold a single mutex.
type LocalStore struct {
	mu      sync.Mutex
	now     func() time.Time
	closed  bool
	strings map[string]string
	sets    map[string]map[string]struct{}
	hashes  map[string]map[string]string
	zsets   map[string]*sortedSet
	expires map[string]time.Time
}

// NewLocalStore creates an empty store.
func NewLocalStore() *LocalStore {
	return &LocalStore{
		now:     time.Now,
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		hashes:  make(map[string]map[string]string),
		zsets:   make(map[string]*sortedSet),
		expires: make(map[string]time.Time),
	}
}

// SetClock replaces the clock used for key expiry.
func (s *LocalStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *LocalStore) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// expireLocked drops key when its deadline passed.
func (s *LocalStore) expireLocked(key string) {
	deadline, ok := s.expires[key]
	if !ok || s.now().Before(deadline) {
		return
	}
	s.delLocked(key)
}

func (s *LocalStore) delLocked(key string) {
	delete(s.strings, key)
	delete(s.sets, key)
	delete(s.hashes, key)
	delete(s.zsets, key)
	delete(s.expires, key)
}

func (s *LocalStore) existsLocked(key string) bool {
	if _, ok := s.strings[key]; ok {
		return true
	}
	if _, ok := s.sets[key]; ok {
		return true
	}
	if _, ok := s.hashes[key]; ok {
		return true
	}
	_, ok := s.zsets[key]
	return ok
}

func (s *LocalStore) setLocked(key, value string, ttl time.Duration) {
	s.delLocked(key)
	s.strings[key] = value
	if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
	}
}

func (s *LocalStore) expireSetLocked(key string, ttl time.Duration) {
	s.expireLocked(key)
	if !s.existsLocked(key) {
		return
	}
	if ttl <= 0 {
		s.delLocked(key)
		return
	}
	s.expires[key] = s.now().Add(ttl)
}

func (s *LocalStore) incrLocked(key string, delta float64) (float64, error) {
	s.expireLocked(key)
	cur := 0.0
	if raw, ok := s.strings[key]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("kv: value at %s is not a float", key)
		}
		cur = v
	}
	cur += delta
	s.strings[key] = strconv.FormatFloat(cur, 'f', -1, 64)
	return cur, nil
}

func (s *LocalStore) hsetLocked(key, field, value string) {
	s.expireLocked(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
}

func (s *LocalStore) hdelLocked(key, field string) bool {
	s.expireLocked(key)
	h, ok := s.hashes[key]
	if !ok {
		return false
	}
	if _, ok := h[field]; !ok {
		return false
	}
	delete(h, field)
	if len(h) == 0 {
		s.delLocked(key)
	}
	return true
}

func (s *LocalStore) saddLocked(key, member string) {
	s.expireLocked(key)
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
}

func (s *LocalStore) sremLocked(key, member string) {
	s.expireLocked(key)
	set, ok := s.sets[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		s.delLocked(key)
	}
}

func (s *LocalStore) zaddLocked(key, member string, score float64) {
	s.expireLocked(key)
	z, ok := s.zsets[key]
	if !ok {
		z = newSortedSet()
		s.zsets[key] = z
	}
	z.add(member, score)
}

func (s *LocalStore) zremLocked(key, member string) bool {
	s.expireLocked(key)
	z, ok := s.zsets[key]
	if !ok {
		return false
	}
	removed := z.remove(member)
	if z.len() == 0 {
		s.delLocked(key)
	}
	return removed
}

func (s *LocalStore) Get(_ context.Context, key string) (string, bool, error) {
	if err := s.lock(); err != nil {
		return "", false, err
	}
	defer s.mu.Unlock()
	s.expireLocked(key)
	v, ok := s.strings[key]
	return v, ok, nil
}

func (s *LocalStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
	return nil
}

func (s *LocalStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	s.expireLocked(key)
	if s.existsLocked(key) {
		return false, nil
	}
	s.setLocked(key, value, ttl)
	return true, nil
}

func (s *LocalStore) Del(_ context.Context, key string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.delLocked(key)
	return nil
}

func (s *LocalStore) IncrByFloat(_ context.Context, key string, delta float64) (float64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return s.incrLocked(key, delta)
}

func (s *LocalStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.expireSetLocked(key, ttl)
	return nil
}

func (s *LocalStore) SAdd(_ context.Context, key, member string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.saddLocked(key, member)
	return nil
}

func (s *LocalStore) SRem(_ context.Context, key, member string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.sremLocked(key, member)
	return nil
}

func (s *LocalStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	s.expireLocked(key)
	_, ok := s.sets[key][member]
	return ok, nil
}

func (s *LocalStore) HSet(_ context.Context, key, field, value string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.hsetLocked(key, field, value)
	return nil
}

func (s *LocalStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	if err := s.lock(); err != nil {
		return "", false, err
	}
	defer s.mu.Unlock()
	s.expireLocked(key)
	v, ok := s.hashes[key][field]
	return v, ok, nil
}

func (s *LocalStore) HDel(_ context.Context, key, field string) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return s.hdelLocked(key, field), nil
}

func (s *LocalStore) HVals(_ context.Context, key string) ([]string, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	s.expireLocked(key)
	h := s.hashes[key]
	out := make([]string, 0, len(h))
	for _, v := range h {
		out = append(out, v)
	}
	return out, nil
}

func (s *LocalStore) ZAdd(_ context.Context, key, member string, score float64) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.zaddLocked(key, member, score)
	return nil
}

func (s *LocalStore) ZRem(_ context.Context, key, member string) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return s.zremLocked(key, member), nil
}

func (s *LocalStore) ZRangeByScore(_ context.Context, key string, min, max float64, limit int) ([]string, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	s.expireLocked(key)
	z, ok := s.zsets[key]
	if !ok {
		return nil, nil
	}
	return z.rangeByScore(min, max, limit), nil
}

func (s *LocalStore) Tx(_ context.Context, fn func(p Pipe) error) error {
	p := &localPipe{}
	if err := fn(p); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if err := p.validate(s); err != nil {
		return err
	}
	for _, op := range p.ops {
		op.apply(s)
	}
	return nil
}

func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// localOp is one queued write. Writes to the string keyspace also carry
// their key so validate can replay them.
type localOp struct {
	apply func(s *LocalStore)
	key   string
	set   *string
	incr  *float64
}

// localPipe records writes to replay under the store lock.
type localPipe struct {
	ops []localOp
}

func (p *localPipe) add(apply func(s *LocalStore)) {
	p.ops = append(p.ops, localOp{apply: apply})
}

// validate dry-runs the string writes against a shadow copy so a failing
// IncrByFloat rejects the whole transaction before anything is applied.
// It must be called with the store lock held.
func (p *localPipe) validate(s *LocalStore) error {
	shadow := make(map[string]string)
	for _, op := range p.ops {
		switch {
		case op.set != nil:
			shadow[op.key] = *op.set
		case op.incr != nil:
			raw, ok := shadow[op.key]
			if !ok {
				s.expireLocked(op.key)
				raw, ok = s.strings[op.key]
			}
			cur := 0.0
			if ok {
				v, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return fmt.Errorf("kv: value at %s is not a float", op.key)
				}
				cur = v
			}
			shadow[op.key] = strconv.FormatFloat(cur+*op.incr, 'f', -1, 64)
		}
	}
	return nil
}

func (p *localPipe) Set(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, localOp{
		apply: func(s *LocalStore) { s.setLocked(key, value, ttl) },
		key:   key,
		set:   &value,
	})
}

func (p *localPipe) IncrByFloat(key string, delta float64) {
	p.ops = append(p.ops, localOp{
		apply: func(s *LocalStore) { _, _ = s.incrLocked(key, delta) },
		key:   key,
		incr:  &delta,
	})
}

func (p *localPipe) Expire(key string, ttl time.Duration) {
	p.add(func(s *LocalStore) { s.expireSetLocked(key, ttl) })
}

func (p *localPipe) HSet(key, field, value string) {
	p.add(func(s *LocalStore) { s.hsetLocked(key, field, value) })
}

func (p *localPipe) HDel(key, field string) {
	p.add(func(s *LocalStore) { s.hdelLocked(key, field) })
}

func (p *localPipe) ZAdd(key, member string, score float64) {
	p.add(func(s *LocalStore) { s.zaddLocked(key, member, score) })
}

func (p *localPipe) ZRem(key, member string) {
	p.add(func(s *LocalStore) { s.zremLocked(key, member) })
}

func (p *localPipe) SAdd(key, member string) {
	p.add(func(s *LocalStore) { s.saddLocked(key, member) })
}

func (p *localPipe) SRem(key, member string) {
	p.add(func(s *LocalStore) { s.sremLocked(key, member) })
}

// sortedSet keeps members ordered by (score, member) so range queries are a
// binary search plus a walk over the matching slice.
type sortedSet struct {
	scores  map[string]float64
	entries []zentry
}

type zentry struct {
	score  float64
	member string
}

func newSortedSet() *sortedSet {
	return &sortedSet{scores: make(map[string]float64)}
}

func (z *sortedSet) len() int { return len(z.entries) }

func (z *sortedSet) search(score float64, member string) int {
	return sort.Search(len(z.entries), func(i int) bool {
		e := z.entries[i]
		if e.score != score {
			return e.score > score
		}
		return e.member >= member
	})
}

func (z *sortedSet) add(member string, score float64) {
	if old, ok := z.scores[member]; ok {
		if old == score {
			return
		}
		z.remove(member)
	}
	i := z.search(score, member)
	z.entries = append(z.entries, zentry{})
	copy(z.entries[i+1:], z.entries[i:])
	z.entries[i] = zentry{score: score, member: member}
	z.scores[member] = score
}

func (z *sortedSet) remove(member string) bool {
	score, ok := z.scores[member]
	if !ok {
		return false
	}
	i := z.search(score, member)
	if i < len(z.entries) && z.entries[i].member == member {
		z.entries = append(z.entries[:i], z.entries[i+1:]...)
	}
	delete(z.scores, member)
	return true
}

func (z *sortedSet) rangeByScore(min, max float64, limit int) []string {
	start := sort.Search(len(z.entries), func(i int) bool { return z.entries[i].score >= min })
	var out []string
	for i := start; i < len(z.entries); i++ {
		if z.entries[i].score > max {
			break
		}
		out = append(out, z.entries[i].member)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
