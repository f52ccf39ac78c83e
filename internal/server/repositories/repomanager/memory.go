package repomanager

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/documents"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/refreshtokens"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/repositories/users"
)

type docKey struct {
	kind string
	id   string
}

type memState struct {
	users  map[string]models.User
	tokens map[string]models.RefreshToken
	docs   map[docKey]*models.Document
}

func newMemState() *memState {
	return &memState{
		users:  map[string]models.User{},
		tokens: map[string]models.RefreshToken{},
		docs:   map[docKey]*models.Document{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, u := range s.users {
		c.users[k] = u
	}
	for k, t := range s.tokens {
		c.tokens[k] = t
	}
	for k, d := range s.docs {
		c.docs[k] = d.Clone()
	}
	return c
}

// MemoryStore keeps everything in process memory. Transactions are
// serialized and applied by swapping in a modified copy of the state.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState(), now: time.Now}
}

func (s *MemoryStore) Users() users.Repository { return memUsers{memView{s: s}} }

func (s *MemoryStore) RefreshTokens() refreshtokens.Repository { return memTokens{memView{s: s}} }

func (s *MemoryStore) Documents() documents.Repository { return memDocuments{memView{s: s}} }

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, memTx{memView{s: s, st: work}}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// memView runs against the transaction copy when st is set and against the
// live state under the store lock otherwise.
type memView struct {
	s  *MemoryStore
	st *memState
}

func (v memView) do(fn func(st *memState) error) error {
	if v.st != nil {
		return fn(v.st)
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn(v.s.state)
}

type memTx struct{ memView }

func (t memTx) Users() users.Repository                 { return memUsers(t) }
func (t memTx) RefreshTokens() refreshtokens.Repository { return memTokens(t) }
func (t memTx) Documents() documents.Repository         { return memDocuments(t) }

type memUsers struct{ memView }

func (r memUsers) Create(ctx context.Context, user *models.User) (*models.User, error) {
	err := r.do(func(st *memState) error {
		if _, ok := st.users[user.UserName]; ok {
			return common.ErrUserExists
		}
		user.CreatedAt = r.s.now()
		st.users[user.UserName] = *user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r memUsers) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	var found models.User
	err := r.do(func(st *memState) error {
		u, ok := st.users[login]
		if !ok {
			return common.ErrorNotFound
		}
		found = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &found, nil
}

type memTokens struct{ memView }

func (r memTokens) Create(ctx context.Context, token *models.RefreshToken) error {
	return r.do(func(st *memState) error {
		if _, ok := st.tokens[token.Token]; ok {
			return fmt.Errorf("duplicate refresh token")
		}
		st.tokens[token.Token] = *token
		return nil
	})
}

func (r memTokens) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	var found models.RefreshToken
	err := r.do(func(st *memState) error {
		t, ok := st.tokens[token]
		if !ok {
			return common.ErrorNotFound
		}
		found = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &found, nil
}

func (r memTokens) Delete(ctx context.Context, token string) (bool, error) {
	var existed bool
	err := r.do(func(st *memState) error {
		_, existed = st.tokens[token]
		delete(st.tokens, token)
		return nil
	})
	return existed, err
}

type memDocuments struct{ memView }

func (r memDocuments) Upsert(ctx context.Context, doc *models.Document) (bool, error) {
	var inserted bool
	err := r.do(func(st *memState) error {
		k := docKey{doc.Kind, doc.ID}
		cur, ok := st.docs[k]
		if ok && cur.OwnerID != doc.OwnerID {
			return fmt.Errorf("%w: %s/%s", common.ErrOwnershipConflict, doc.Kind, doc.ID)
		}
		if ok && cur.CreatedAt != 0 {
			doc.CreatedAt = cur.CreatedAt
		}
		doc.UpdatedAt = r.s.now()
		st.docs[k] = doc.Clone()
		inserted = !ok
		return nil
	})
	return inserted, err
}

func (r memDocuments) Delete(ctx context.Context, ownerID, kind, id string) (bool, error) {
	var existed bool
	err := r.do(func(st *memState) error {
		k := docKey{kind, id}
		if cur, ok := st.docs[k]; ok && cur.OwnerID == ownerID {
			delete(st.docs, k)
			existed = true
		}
		return nil
	})
	return existed, err
}

func (r memDocuments) List(ctx context.Context, ownerID, kind string) ([]*models.Document, error) {
	return r.collect(func(d *models.Document) bool { return d.OwnerID == ownerID && d.Kind == kind })
}

func (r memDocuments) ListAll(ctx context.Context, ownerID string) ([]*models.Document, error) {
	return r.collect(func(d *models.Document) bool { return d.OwnerID == ownerID })
}

func (r memDocuments) Owners(ctx context.Context) ([]string, error) {
	var owners []string
	err := r.do(func(st *memState) error {
		for _, d := range st.docs {
			if !slices.Contains(owners, d.OwnerID) {
				owners = append(owners, d.OwnerID)
			}
		}
		return nil
	})
	sort.Strings(owners)
	return owners, err
}

func (r memDocuments) collect(match func(*models.Document) bool) ([]*models.Document, error) {
	result := []*models.Document{}
	err := r.do(func(st *memState) error {
		for _, d := range st.docs {
			if match(d) {
				result = append(result, d.Clone())
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
	return result, err
}
