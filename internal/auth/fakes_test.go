package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/waterballsa/academy/internal/model"
	"github.com/waterballsa/academy/internal/repository"
)

// memoryStore はREAD COMMITTEDを模したインメモリのIdentityStore。
// トランザクション内の書き込みはコミット時にまとめて反映され、
// 一意制約に違反する場合はmodel.ErrIdentityConflictを返す。
type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*model.User
	links  []*model.ProviderLink

	// insertBarrier が設定されている場合、InsertUserは全員が到着するまで待機する。
	insertBarrier *sync.WaitGroup
	barrierLeft   int

	// txErr が設定されている場合、WithinTxはfnを実行せずにこのエラーを返す。
	txErr error
	// conflictsLeft の回数だけコミットを一意制約違反として失敗させる。
	conflictsLeft int
	txCount       int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: make(map[int64]*model.User)}
}

// withInsertBarrier はn個のトランザクションがInsertUserに到達するまで待ち合わせる。
func (s *memoryStore) withInsertBarrier(n int) {
	s.insertBarrier = &sync.WaitGroup{}
	s.insertBarrier.Add(n)
	s.barrierLeft = n
}

func (s *memoryStore) seedUser(u *model.User) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cp := *u
	cp.ID = s.nextID
	if cp.Role == "" {
		cp.Role = model.DefaultRole
	}
	s.users[cp.ID] = &cp
	out := cp
	return &out
}

func (s *memoryStore) seedLink(l *model.ProviderLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	cp := *l
	cp.ID = s.nextID
	s.links = append(s.links, &cp)
}

func (s *memoryStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memoryStore) linksOf(userID int64) []*model.ProviderLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ProviderLink
	for _, l := range s.links {
		if l.UserID == userID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out
}

func (s *memoryStore) allLinks() []*model.ProviderLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.ProviderLink, len(s.links))
	copy(out, s.links)
	return out
}

func (s *memoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.IdentityTx) error) error {
	s.mu.Lock()
	s.txCount++
	txErr := s.txErr
	s.mu.Unlock()
	if txErr != nil {
		return txErr
	}

	tx := &memoryTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *memoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflictsLeft > 0 && (len(tx.users) > 0 || len(tx.links) > 0) {
		s.conflictsLeft--
		return fmt.Errorf("injected conflict: %w", model.ErrIdentityConflict)
	}
	for _, u := range tx.users {
		for _, existing := range s.users {
			if existing.EmailFingerprint == u.EmailFingerprint {
				return fmt.Errorf("duplicate fingerprint: %w", model.ErrIdentityConflict)
			}
		}
	}
	for _, l := range tx.links {
		for _, existing := range s.links {
			if existing.Provider == l.Provider && existing.ProviderSubject == l.ProviderSubject {
				return fmt.Errorf("duplicate link: %w", model.ErrIdentityConflict)
			}
		}
	}
	for _, u := range tx.users {
		cp := *u
		s.users[cp.ID] = &cp
	}
	for _, l := range tx.links {
		cp := *l
		s.links = append(s.links, &cp)
	}
	return nil
}

// memoryTx はコミット済みの状態と自トランザクションの書き込みを参照する。
type memoryTx struct {
	store *memoryStore
	users []*model.User
	links []*model.ProviderLink
}

func (t *memoryTx) FindLinkByProvider(_ context.Context, provider model.ProviderKind, subject string) (*model.ProviderLink, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, links := range [][]*model.ProviderLink{t.store.links, t.links} {
		for _, l := range links {
			if l.Provider == provider && l.ProviderSubject == subject {
				cp := *l
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (t *memoryTx) FindUserByID(_ context.Context, id int64) (*model.User, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if u, ok := t.store.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	for _, u := range t.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) FindUserByEmailFingerprint(_ context.Context, fingerprint string) (*model.User, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, u := range t.store.users {
		if u.EmailFingerprint == fingerprint {
			cp := *u
			return &cp, nil
		}
	}
	for _, u := range t.users {
		if u.EmailFingerprint == fingerprint {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) InsertUser(_ context.Context, user *model.User) error {
	t.store.mu.Lock()
	barrier := t.store.insertBarrier
	wait := barrier != nil && t.store.barrierLeft > 0
	if wait {
		t.store.barrierLeft--
	}
	t.store.nextID++
	user.ID = t.store.nextID
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	t.store.mu.Unlock()

	if wait {
		barrier.Done()
		barrier.Wait()
	}

	cp := *user
	t.users = append(t.users, &cp)
	return nil
}

func (t *memoryTx) InsertLink(_ context.Context, link *model.ProviderLink) error {
	t.store.mu.Lock()
	t.store.nextID++
	link.ID = t.store.nextID
	link.LinkedAt = time.Now()
	t.store.mu.Unlock()

	cp := *link
	t.links = append(t.links, &cp)
	return nil
}

var (
	_ repository.IdentityStore = (*memoryStore)(nil)
	_ repository.IdentityTx    = (*memoryTx)(nil)
)

// recordingMetrics は記録されたメトリクスを数える。
type recordingMetrics struct {
	mu           sync.Mutex
	logins       map[string]int
	conflicts    int
	refreshes    map[bool]int
	cacheResults map[string]int
	latencies    int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		logins:       make(map[string]int),
		refreshes:    make(map[bool]int),
		cacheResults: make(map[string]int),
	}
}

func (m *recordingMetrics) RecordLogin(provider, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[provider+"/"+outcome]++
}

func (m *recordingMetrics) RecordIdentityConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *recordingMetrics) RecordTokenRefresh(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes[success]++
}

func (m *recordingMetrics) RecordAuthFailure(string) {}

func (m *recordingMetrics) RecordSessionCache(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheResults[result]++
}

func (m *recordingMetrics) RecordHTTPStatus(int) {}

func (m *recordingMetrics) RecordResolveLatency(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}

// memoryUsers はmemoryStoreのコミット済みデータを参照するリポジトリ。
type memoryUsers struct {
	store *memoryStore
	// afterFindByIDFn は読み込み直後に呼ばれる。
	afterFindByIDFn func(id int64)
}

func (m *memoryUsers) FindByID(_ context.Context, id int64) (*model.User, error) {
	m.store.mu.Lock()
	u, ok := m.store.users[id]
	var cp model.User
	if ok {
		cp = *u
	}
	m.store.mu.Unlock()

	if m.afterFindByIDFn != nil {
		m.afterFindByIDFn(id)
	}
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *memoryUsers) FindByEmailFingerprint(_ context.Context, fingerprint string) (*model.User, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, u := range m.store.users {
		if u.EmailFingerprint == fingerprint {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryUsers) Create(_ context.Context, user *model.User) error {
	created := m.store.seedUser(user)
	user.ID = created.ID
	return nil
}

func (m *memoryUsers) AddExp(_ context.Context, id int64, delta int) (int, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	u, ok := m.store.users[id]
	if !ok {
		return 0, model.ErrUserNotFound
	}
	u.Exp += delta
	return u.Exp, nil
}

func (m *memoryUsers) UpdateRole(_ context.Context, id int64, role model.Role) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	u, ok := m.store.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.Role = role
	return nil
}

func (m *memoryUsers) DeleteByID(_ context.Context, id int64) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if _, ok := m.store.users[id]; !ok {
		return model.ErrUserNotFound
	}
	delete(m.store.users, id)
	kept := m.store.links[:0]
	for _, l := range m.store.links {
		if l.UserID != id {
			kept = append(kept, l)
		}
	}
	m.store.links = kept
	return nil
}

func (m *memoryUsers) FindByProvider(_ context.Context, provider model.ProviderKind, subject string) (*model.ProviderLink, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, l := range m.store.links {
		if l.Provider == provider && l.ProviderSubject == subject {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryUsers) ListByUserID(_ context.Context, userID int64) ([]*model.ProviderLink, error) {
	return m.store.linksOf(userID), nil
}

var (
	_ repository.UserRepository         = (*memoryUsers)(nil)
	_ repository.ProviderLinkRepository = (*memoryUsers)(nil)
)

// memoryCache はmapによるsession.Cacheの実装。
type memoryCache struct {
	mu        sync.Mutex
	entries   map[int64]*model.SessionSnapshot
	ttls      map[int64]time.Duration
	getErr    error
	putErr    error
	invErr    error
	getCalls  int
	putCalls  int
	invalided []int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		entries: make(map[int64]*model.SessionSnapshot),
		ttls:    make(map[int64]time.Duration),
	}
}

func (c *memoryCache) Put(_ context.Context, userID int64, snapshot *model.SessionSnapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putCalls++
	if c.putErr != nil {
		return c.putErr
	}
	cp := *snapshot
	c.entries[userID] = &cp
	c.ttls[userID] = ttl
	return nil
}

func (c *memoryCache) Get(_ context.Context, userID int64) (*model.SessionSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getCalls++
	if c.getErr != nil {
		return nil, c.getErr
	}
	s, ok := c.entries[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (c *memoryCache) Invalidate(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalided = append(c.invalided, userID)
	if c.invErr != nil {
		return c.invErr
	}
	delete(c.entries, userID)
	return nil
}

func (c *memoryCache) has(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[userID]
	return ok
}

// mockOAuthProvider はOAuthProviderのモック。
type mockOAuthProvider struct {
	kind           model.ProviderKind
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) Kind() model.ProviderKind {
	return m.kind
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

var _ OAuthProvider = (*mockOAuthProvider)(nil)
