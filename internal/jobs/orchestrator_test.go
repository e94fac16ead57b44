package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Herbiiiii/Nano-banana/internal/domain"
	"github.com/Herbiiiii/Nano-banana/internal/imagegen"
)

func newTestOrchestrator(t *testing.T, repo *fakeRepo, store *fakeStore, factory GeneratorFactory, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.GlobalAPIToken == "" {
		cfg.GlobalAPIToken = "global-token"
	}
	if cfg.MaxActivePerUser == 0 {
		cfg.MaxActivePerUser = 5
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 8
	}
	resolver := imagegen.NewResolver(nil, zerolog.Nop())
	o := NewOrchestrator(repo, store, factory, resolver, zerolog.Nop(), cfg)
	t.Cleanup(o.Close)
	return o
}

func waitStatus(t *testing.T, repo *fakeRepo, id string, want domain.Status) *domain.Generation {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		gen := repo.get(t, id)
		if gen.Status == want {
			return gen
		}
		if gen.Status.Terminal() {
			t.Fatalf("generation reached %s, want %s (error %q)", gen.Status, want, gen.Metadata.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("generation never reached %s", want)
	return nil
}

func TestSubmitAndComplete(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	gen := &fakeGenerator{out: &imagegen.BytesOutput{Data: testPNG(t)}}
	o := newTestOrchestrator(t, repo, store, gen.factory, Config{})

	created, err := o.Submit(context.Background(), "user-1", SubmitRequest{
		Prompt: "a red fox",
		Mode:   domain.ModeTextToImage,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if created.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", created.Status)
	}

	done := waitStatus(t, repo, created.ID, domain.StatusCompleted)
	if !strings.HasPrefix(done.ResultPath, "images/") {
		t.Fatalf("result path = %q, want images/ prefix", done.ResultPath)
	}
	if !strings.HasSuffix(done.ResultPath, ".png") {
		t.Fatalf("result path = %q, want .png suffix", done.ResultPath)
	}
	if done.ResultURL != fakeStoreBase+"/"+done.ResultPath {
		t.Fatalf("result url = %q does not match path %q", done.ResultURL, done.ResultPath)
	}
	if done.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if !store.has(done.ResultPath) {
		t.Fatal("result artifact missing from store")
	}
}

func TestSubmitUsesJobCredentialOverGlobal(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{out: &imagegen.BytesOutput{Data: testPNG(t)}}
	o := newTestOrchestrator(t, repo, newFakeStore(), gen.factory, Config{GlobalAPIToken: "global-token"})

	created, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "x", APIKey: "  user-token  "})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStatus(t, repo, created.ID, domain.StatusCompleted)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	if len(gen.tokens) != 1 || gen.tokens[0] != "user-token" {
		t.Fatalf("tokens = %v, want [user-token]", gen.tokens)
	}
}

func TestSubmitMissingCredential(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{}
	resolver := imagegen.NewResolver(nil, zerolog.Nop())
	o := NewOrchestrator(repo, newFakeStore(), gen.factory, resolver, zerolog.Nop(), Config{})
	t.Cleanup(o.Close)

	_, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
	if len(repo.gens) != 0 {
		t.Fatal("rejected submission left a record behind")
	}
}

func TestSubmitConcurrencyLimit(t *testing.T) {
	repo := newFakeRepo()
	if err := repo.Create(context.Background(), &domain.Generation{
		ID:     "busy",
		UserID: "user-1",
		Status: domain.StatusRunning,
	}); err != nil {
		t.Fatal(err)
	}
	gen := &fakeGenerator{out: &imagegen.BytesOutput{Data: testPNG(t)}}
	o := newTestOrchestrator(t, repo, newFakeStore(), gen.factory, Config{MaxActivePerUser: 1})

	if _, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "x"}); !errors.Is(err, domain.ErrConcurrencyLimit) {
		t.Fatalf("err = %v, want ErrConcurrencyLimit", err)
	}

	// Another user is unaffected by the first user's active job.
	created, err := o.Submit(context.Background(), "user-2", SubmitRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit for second user: %v", err)
	}
	waitStatus(t, repo, created.ID, domain.StatusCompleted)
}

type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
	out     imagegen.Output
}

func (g *blockingGenerator) factory(string) imagegen.Generator { return g }

func (g *blockingGenerator) Generate(context.Context, imagegen.Request) (imagegen.Output, error) {
	g.started <- struct{}{}
	<-g.release
	return g.out, nil
}

func TestSubmitQueueFull(t *testing.T) {
	repo := newFakeRepo()
	gen := &blockingGenerator{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
		out:     &imagegen.BytesOutput{Data: testPNG(t)},
	}
	o := newTestOrchestrator(t, repo, newFakeStore(), gen.factory, Config{Workers: 1, QueueSize: 1, MaxActivePerUser: 10})

	first, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "one"})
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	<-gen.started // the only worker is now busy

	if _, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "two"}); err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	_, err = o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "three"})
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if len(repo.gens) != 2 {
		t.Fatalf("records = %d, want 2 (rejected job removed)", len(repo.gens))
	}

	close(gen.release)
	waitStatus(t, repo, first.ID, domain.StatusCompleted)
}

func TestSubmitQueueFullRemovesUploadedReferences(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	gen := &blockingGenerator{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
		out:     &imagegen.BytesOutput{Data: testPNG(t)},
	}
	o := newTestOrchestrator(t, repo, store, gen.factory, Config{Workers: 1, QueueSize: 1, MaxActivePerUser: 10})

	first, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "one"})
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	<-gen.started // the only worker is now busy

	if _, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "two"}); err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	_, err = o.Submit(context.Background(), "user-1", SubmitRequest{
		Prompt:          "three",
		ReferenceImages: []string{testDataURI(t)},
	})
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if n := store.len(); n != 0 {
		t.Fatalf("store holds %d objects after rejection, want 0", n)
	}

	close(gen.release)
	waitStatus(t, repo, first.ID, domain.StatusCompleted)
}

func TestSubmitPersistsInlineReferences(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	gen := &fakeGenerator{out: &imagegen.BytesOutput{Data: testPNG(t)}}
	o := newTestOrchestrator(t, repo, store, gen.factory, Config{})

	corrupt := "data:image/png;base64,bm90YW5pbWFnZQ==" // decodes but is not an image
	external := "https://elsewhere.test/ref.jpg"
	created, err := o.Submit(context.Background(), "user-1", SubmitRequest{
		Prompt:          "fox in the style of the references",
		Mode:            domain.ModeImageToImage,
		ReferenceImages: []string{testDataURI(t), external, corrupt},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	refs := created.Metadata.ReferenceImageURLs
	if len(refs) != 3 {
		t.Fatalf("reference urls = %d, want 3", len(refs))
	}
	if !strings.HasPrefix(refs[0], fakeStoreBase+"/references/") {
		t.Fatalf("first reference %q not persisted to the store", refs[0])
	}
	if refs[1] != external {
		t.Fatalf("second reference = %q, want pass-through url", refs[1])
	}
	if refs[2] != corrupt {
		t.Fatalf("third reference = %q, want inline fallback", refs[2])
	}
	if created.Metadata.ReferenceImageCount != 3 {
		t.Fatalf("reference count = %d, want 3", created.Metadata.ReferenceImageCount)
	}

	waitStatus(t, repo, created.ID, domain.StatusCompleted)
	req := gen.lastRequest(t)
	if len(req.References) != 3 {
		t.Fatalf("provider saw %d references, want 3", len(req.References))
	}
	if req.References[0].URL == "" || req.References[1].URL != external {
		t.Fatalf("url references not rebuilt: %+v", req.References[:2])
	}
	if len(req.References[2].Data) == 0 {
		t.Fatal("inline reference lost its bytes")
	}
}

func TestSubmitReferenceUploadFailureKeepsInline(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	store.putErr = errors.New("bucket unavailable")
	gen := &fakeGenerator{out: &imagegen.URLOutput{Value: "https://provider.test/out.png"}}
	o := newTestOrchestrator(t, repo, store, gen.factory, Config{})

	inline := testDataURI(t)
	created, err := o.Submit(context.Background(), "user-1", SubmitRequest{
		Prompt:          "x",
		ReferenceImages: []string{inline},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := created.Metadata.ReferenceImageURLs[0]; got != inline {
		t.Fatalf("reference = %q, want inline fallback", got)
	}
}

func TestProcessProviderFailure(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{err: errors.New("generation failed: NSFW content detected")}
	o := newTestOrchestrator(t, repo, newFakeStore(), gen.factory, Config{})

	created, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	failed := waitStatus(t, repo, created.ID, domain.StatusFailed)
	if !strings.Contains(failed.Metadata.Error, "NSFW content detected") {
		t.Fatalf("error = %q, want provider message", failed.Metadata.Error)
	}
	if failed.CompletedAt == nil {
		t.Fatal("completed_at not set on failure")
	}
}

func TestProcessStorageFailureFallsBackToProviderURL(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	store.putErr = errors.New("bucket unavailable")
	gen := &fakeGenerator{out: &imagegen.BytesOutput{
		Data: testPNG(t),
		URL:  "https://provider.test/out.png",
	}}
	o := newTestOrchestrator(t, repo, store, gen.factory, Config{})

	created, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitStatus(t, repo, created.ID, domain.StatusCompleted)
	if done.ResultURL != "https://provider.test/out.png" {
		t.Fatalf("result url = %q, want provider fallback", done.ResultURL)
	}
	if done.ResultPath != "" {
		t.Fatalf("result path = %q, want empty", done.ResultPath)
	}
}

func TestProcessStorageFailureWithoutURLFails(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	store.putErr = errors.New("bucket unavailable")
	gen := &fakeGenerator{out: &imagegen.BytesOutput{Data: testPNG(t)}}
	o := newTestOrchestrator(t, repo, store, gen.factory, Config{})

	created, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	failed := waitStatus(t, repo, created.ID, domain.StatusFailed)
	if !strings.Contains(failed.Metadata.Error, "failed to store result image") {
		t.Fatalf("error = %q", failed.Metadata.Error)
	}
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{panics: true}
	o := newTestOrchestrator(t, repo, newFakeStore(), gen.factory, Config{Workers: 1})

	created, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	failed := waitStatus(t, repo, created.ID, domain.StatusFailed)
	if !strings.Contains(failed.Metadata.Error, "internal error") {
		t.Fatalf("error = %q, want internal error marker", failed.Metadata.Error)
	}

	// The worker pool must survive the panic and keep serving jobs.
	gen.set(&imagegen.BytesOutput{Data: testPNG(t)}, nil, false)
	next, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "y"})
	if err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
	waitStatus(t, repo, next.ID, domain.StatusCompleted)
}

func TestFailureMessageTruncated(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{err: errors.New(strings.Repeat("e", 5000))}
	o := newTestOrchestrator(t, repo, newFakeStore(), gen.factory, Config{})

	created, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	failed := waitStatus(t, repo, created.ID, domain.StatusFailed)
	if len(failed.Metadata.Error) != maxErrorLength {
		t.Fatalf("error length = %d, want %d", len(failed.Metadata.Error), maxErrorLength)
	}
}

func TestFailureMessageTruncatedOnRuneBoundary(t *testing.T) {
	// The single ASCII byte up front shifts the cut into the middle of a
	// two-byte Cyrillic rune.
	long := "e" + strings.Repeat("ошибка", 400)
	repo := newFakeRepo()
	gen := &fakeGenerator{err: errors.New(long)}
	o := newTestOrchestrator(t, repo, newFakeStore(), gen.factory, Config{})

	created, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	failed := waitStatus(t, repo, created.ID, domain.StatusFailed)
	msg := failed.Metadata.Error
	if !utf8.ValidString(msg) {
		t.Fatalf("stored error is not valid UTF-8: %q", msg[len(msg)-8:])
	}
	if len(msg) > maxErrorLength {
		t.Fatalf("error length = %d, want at most %d", len(msg), maxErrorLength)
	}
	if len(msg) < maxErrorLength-utf8.UTFMax {
		t.Fatalf("error length = %d, truncated too aggressively", len(msg))
	}
}

func TestProcessResultUploadIsBounded(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	gen := &fakeGenerator{out: &imagegen.BytesOutput{Data: testPNG(t)}}
	o := newTestOrchestrator(t, repo, store, gen.factory, Config{})

	created, err := o.Submit(context.Background(), "user-1", SubmitRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done := waitStatus(t, repo, created.ID, domain.StatusCompleted)
	if !store.putHadDeadline(done.ResultPath) {
		t.Fatal("result upload ran without a deadline")
	}
}
