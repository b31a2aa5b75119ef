package aggregator

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/kqio/kqueue/internal/knote"
)

// blockSize is the byte budget of one cache growth: each growth
// allocates blockSize / sizeof(Token) Tokens, mirroring tnet's poller
// desc_cache.go pollBlockSize.
const blockSize = 4 * 1024

// Ref is one (filter, knote) pair a Token stands for. Most filters
// register a Token with exactly one Ref; EVFILT_READ and EVFILT_WRITE
// knotes on the same fd share a single epoll registration (the kernel
// allows only one per fd) and therefore share one Token with two Refs.
type Ref struct {
	FilterID int16
	Knote    *knote.Knote
}

// Token is the weak back-reference the aggregator stuffs into the
// kernel-visible epoll_event.data field (design §4.3, §9 "Knote
// reachability from OS primitive"). A pointer handed to epoll_ctl is
// invisible to the Go garbage collector — the kernel's copy of the
// bytes is not a root it scans — so a Token must live in memory the
// collector will never reclaim on its own. tokenCache below provides
// exactly that, the same way tnet's descCache keeps its Desc pool
// alive for as long as any poller might reference one.
type Token struct {
	index int32
	next  *Token

	// Ident is the fd or other native identifier this token was
	// registered under; kept for diagnostics and for filters that want
	// to re-derive state without walking Refs.
	Ident uint64

	mu   sync.Mutex
	refs []Ref
}

func init() {
	runtime.KeepAlive(defaultTokenCache)
}

var defaultTokenCache = newTokenCache()

type tokenCache struct {
	first  *Token
	cache  []*Token
	locked int32

	mu       sync.Mutex
	freeList []int32
}

func newTokenCache() *tokenCache {
	return &tokenCache{cache: make([]*Token, 0, 1024)}
}

// NewToken allocates a Token from the process-wide, GC-invisible pool
// carrying a single initial Ref.
func NewToken(ident uint64, ref Ref) *Token {
	tok := defaultTokenCache.alloc()
	tok.Ident = ident
	tok.refs = append(tok.refs[:0], ref)
	return tok
}

// AddRef appends ref to tok, used when a second filter (EVFILT_WRITE
// joining an EVFILT_READ registration, or vice versa) starts sharing
// an already-registered fd.
func (t *Token) AddRef(ref Ref) {
	t.mu.Lock()
	t.refs = append(t.refs, ref)
	t.mu.Unlock()
}

// RemoveRef drops the Ref for filterID and returns how many remain,
// so the caller can tell whether the underlying fd registration should
// be removed entirely or merely narrowed.
func (t *Token) RemoveRef(filterID int16) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.refs {
		if r.FilterID == filterID {
			t.refs = append(t.refs[:i], t.refs[i+1:]...)
			break
		}
	}
	return len(t.refs)
}

// Snapshot returns a defensive copy of tok's current Refs for safe
// iteration outside the Token's own lock.
func (t *Token) Snapshot() []Ref {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Ref, len(t.refs))
	copy(out, t.refs)
	return out
}

// FreeToken returns a Token to the pool. Callers must not touch the
// Token afterwards; its fields are zeroed lazily on reuse.
func FreeToken(tok *Token) {
	if tok == nil {
		return
	}
	defaultTokenCache.markFree(tok)
}

func (tc *tokenCache) alloc() *Token {
	tc.lock()
	if tc.first == nil {
		const size = unsafe.Sizeof(Token{})
		n := blockSize / size
		if n == 0 {
			n = 1
		}
		index := int32(len(tc.cache))
		for i := uintptr(0); i < n; i++ {
			t := &Token{index: index}
			tc.cache = append(tc.cache, t)
			t.next = tc.first
			tc.first = t
			index++
		}
	}
	t := tc.first
	tc.first = t.next
	tc.unlock()
	return t
}

func (tc *tokenCache) markFree(t *Token) {
	tc.mu.Lock()
	tc.freeList = append(tc.freeList, t.index)
	tc.mu.Unlock()
}

func (tc *tokenCache) reclaim() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if len(tc.freeList) == 0 {
		return
	}
	tc.lock()
	for _, i := range tc.freeList {
		t := tc.cache[i]
		t.Ident = 0
		t.refs = nil
		t.next = tc.first
		tc.first = t
	}
	tc.freeList = tc.freeList[:0]
	tc.unlock()
}

func (tc *tokenCache) lock() {
	for !atomic.CompareAndSwapInt32(&tc.locked, 0, 1) {
		runtime.Gosched()
	}
}

func (tc *tokenCache) unlock() {
	atomic.StoreInt32(&tc.locked, 0)
}

// Reclaim returns every Token marked free since the last Reclaim to
// the allocation pool. Aggregators call this each time their native
// wait call returns, before handing that batch's readiness back, the
// same cadence tnet's poller gives freeDesc() in detach().
func Reclaim() {
	defaultTokenCache.reclaim()
}
