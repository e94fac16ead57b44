package jobs

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Herbiiiii/Nano-banana/internal/domain"
	"github.com/Herbiiiii/Nano-banana/internal/imagegen"
)

type fakeRepo struct {
	mu   sync.Mutex
	gens map[string]*domain.Generation

	createErr error
	failCalls []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{gens: map[string]*domain.Generation{}}
}

func (r *fakeRepo) Create(_ context.Context, gen *domain.Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *gen
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.gens[gen.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*domain.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen, ok := r.gens[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *gen
	return &cp, nil
}

func (r *fakeRepo) GetForUser(ctx context.Context, id, userID string) (*domain.Generation, error) {
	gen, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if gen.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return gen, nil
}

func (r *fakeRepo) ListForUser(_ context.Context, userID string, limit, offset int) ([]*domain.Generation, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*domain.Generation
	for _, gen := range r.gens {
		if gen.UserID == userID {
			cp := *gen
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *fakeRepo) CountActive(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, gen := range r.gens {
		if gen.UserID == userID && !gen.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) MarkRunning(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen, ok := r.gens[id]
	if !ok {
		return domain.ErrNotFound
	}
	gen.Status = domain.StatusRunning
	return nil
}

func (r *fakeRepo) Complete(_ context.Context, id, resultURL, resultPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen, ok := r.gens[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	gen.Status = domain.StatusCompleted
	gen.ResultURL = resultURL
	gen.ResultPath = resultPath
	gen.CompletedAt = &now
	return nil
}

func (r *fakeRepo) Fail(_ context.Context, id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen, ok := r.gens[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	gen.Status = domain.StatusFailed
	gen.Metadata.Error = message
	gen.CompletedAt = &now
	r.failCalls = append(r.failCalls, id)
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gens[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.gens, id)
	return nil
}

func (r *fakeRepo) ListExpired(_ context.Context, cutoff time.Time) ([]*domain.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Generation
	for _, gen := range r.gens {
		if gen.CreatedAt.Before(cutoff) {
			cp := *gen
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) ReferenceInUse(_ context.Context, url, excludeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, gen := range r.gens {
		if id == excludeID {
			continue
		}
		for _, ref := range gen.Metadata.ReferenceImageURLs {
			if ref == url {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *fakeRepo) get(t *testing.T, id string) *domain.Generation {
	t.Helper()
	gen, err := r.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return gen
}

const fakeStoreBase = "https://cdn.test/images-bucket"

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	putErr      error
	deleteErr   map[string]error
	putDeadline map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:     map[string][]byte{},
		deleteErr:   map[string]error{},
		putDeadline: map[string]bool{},
	}
}

func (s *fakeStore) Put(ctx context.Context, data []byte, key, _ string) (domain.PutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, s.putDeadline[key] = ctx.Deadline()
	if s.putErr != nil {
		return domain.PutResult{}, s.putErr
	}
	s.objects[key] = append([]byte(nil), data...)
	return domain.PutResult{URL: fakeStoreBase + "/" + key, Path: key}, nil
}

func (s *fakeStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (s *fakeStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteErr[path]; err != nil {
		return err
	}
	delete(s.objects, path)
	return nil
}

func (s *fakeStore) KeyFromURL(url string) (string, bool) {
	key := strings.TrimPrefix(url, fakeStoreBase+"/")
	if key == url || key == "" {
		return "", false
	}
	return key, true
}

func (s *fakeStore) putHadDeadline(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putDeadline[key]
}

func (s *fakeStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeGenerator struct {
	mu     sync.Mutex
	out    imagegen.Output
	err    error
	panics bool

	tokens   []string
	requests []imagegen.Request
}

func (g *fakeGenerator) factory(token string) imagegen.Generator {
	g.mu.Lock()
	g.tokens = append(g.tokens, token)
	g.mu.Unlock()
	return g
}

func (g *fakeGenerator) Generate(_ context.Context, req imagegen.Request) (imagegen.Output, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	out, err, panics := g.out, g.err, g.panics
	g.mu.Unlock()
	if panics {
		panic("generator exploded")
	}
	return out, err
}

func (g *fakeGenerator) set(out imagegen.Output, err error, panics bool) {
	g.mu.Lock()
	g.out, g.err, g.panics = out, err, panics
	g.mu.Unlock()
}

func (g *fakeGenerator) lastRequest(t *testing.T) imagegen.Request {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		t.Fatal("generator was never called")
	}
	return g.requests[len(g.requests)-1]
}

// testPNG returns a decodable PNG payload.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(1, 1, color.RGBA{R: 0x80, A: 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testDataURI(t *testing.T) string {
	t.Helper()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG(t))
}
