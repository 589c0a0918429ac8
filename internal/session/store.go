package session

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mapedit/internal/logger"
	"mapedit/internal/metrics"
)

// 文档注释：进程内会话存储（LRU + 空闲 TTL）
// 背景：会话只存在于内存，浏览器标签关闭后不会通知服务端，需要按容量与空闲时间淘汰
// 约束：
// - 每次 Get 刷新过期时间并移到队首
// - 超出容量时淘汰最久未用的会话；淘汰与过期的会话都会被 Close
// - Close 在存储锁之外执行，避免与会话锁交叉
type Store struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[string]*list.Element
	now  func() time.Time
}

type entry struct {
	s   *Session
	exp time.Time
}

func NewStore(capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	return &Store{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[string]*list.Element), now: time.Now}
}

// Create：以地址栏查询串新建会话并放入存储
func (st *Store) Create(rawQuery string, d Deps) *Session {
	s := New(uuid.NewString(), rawQuery, d)
	st.mu.Lock()
	st.dict[s.ID] = st.lst.PushFront(&entry{s: s, exp: st.now().Add(st.ttl)})
	var evicted []*Session
	for st.lst.Len() > st.cap {
		back := st.lst.Back()
		it := back.Value.(*entry)
		delete(st.dict, it.s.ID)
		st.lst.Remove(back)
		evicted = append(evicted, it.s)
	}
	n := st.lst.Len()
	st.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
	for _, e := range evicted {
		logger.L().Info("session_evicted", "session", e.ID)
		e.Close()
	}
	logger.L().Info("session_created", "session", s.ID, "active", n)
	return s
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	e, ok := st.dict[id]
	if !ok {
		st.mu.Unlock()
		return nil, false
	}
	it := e.Value.(*entry)
	now := st.now()
	if !now.Before(it.exp) {
		st.lst.Remove(e)
		delete(st.dict, id)
		n := st.lst.Len()
		st.mu.Unlock()
		metrics.SessionsActive.Set(float64(n))
		it.s.Close()
		return nil, false
	}
	it.exp = now.Add(st.ttl)
	st.lst.MoveToFront(e)
	st.mu.Unlock()
	return it.s, true
}

// Delete：移除并关闭会话；不存在时返回 false
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	e, ok := st.dict[id]
	if ok {
		st.lst.Remove(e)
		delete(st.dict, id)
	}
	n := st.lst.Len()
	st.mu.Unlock()
	if !ok {
		return false
	}
	metrics.SessionsActive.Set(float64(n))
	e.Value.(*entry).s.Close()
	return true
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lst.Len()
}

// Sweep：清理已过期会话，返回清理数量
func (st *Store) Sweep() int {
	st.mu.Lock()
	now := st.now()
	var expired []*Session
	for e := st.lst.Back(); e != nil; {
		prev := e.Prev()
		it := e.Value.(*entry)
		if !now.Before(it.exp) {
			st.lst.Remove(e)
			delete(st.dict, it.s.ID)
			expired = append(expired, it.s)
		}
		e = prev
	}
	n := st.lst.Len()
	st.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		logger.L().Info("session_sweep", "expired", len(expired), "active", n)
	}
	return len(expired)
}

// Janitor：按间隔执行 Sweep，直到 ctx 结束
func (st *Store) Janitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st.Sweep()
		}
	}
}

// CloseAll：关闭全部会话（进程退出时）
func (st *Store) CloseAll() {
	st.mu.Lock()
	var all []*Session
	for e := st.lst.Front(); e != nil; e = e.Next() {
		all = append(all, e.Value.(*entry).s)
	}
	st.lst.Init()
	st.dict = make(map[string]*list.Element)
	st.mu.Unlock()
	metrics.SessionsActive.Set(0)
	for _, s := range all {
		s.Close()
	}
}
