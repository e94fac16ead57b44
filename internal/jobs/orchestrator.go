package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Herbiiiii/Nano-banana/internal/domain"
	"github.com/Herbiiiii/Nano-banana/internal/imagegen"
	"github.com/Herbiiiii/Nano-banana/internal/storage"
)

const (
	maxErrorLength    = 2000
	storagePutTimeout = 30 * time.Second
)

// GeneratorFactory builds a provider client bound to the credential a job
// was submitted with. Credentials travel with the queued job and are never
// written to the database.
type GeneratorFactory func(token string) imagegen.Generator

type Config struct {
	Workers          int
	QueueSize        int
	MaxActivePerUser int
	GlobalAPIToken   string
	GenerateTimeout  time.Duration
}

// SubmitRequest carries one generation job as accepted at the API boundary.
// ReferenceImages holds data URIs or http(s) URLs.
type SubmitRequest struct {
	Prompt          string
	NegativePrompt  string
	Mode            domain.Mode
	Resolution      string
	AspectRatio     string
	GuidanceScale   float64
	Steps           int
	Seed            *int
	ReferenceImages []string
	APIKey          string
}

type queuedJob struct {
	ID    string
	Token string
}

// Orchestrator admits generation jobs, runs them on a fixed worker pool and
// records every outcome on the job row. The queue is a bounded in-process
// channel; a full queue rejects the submission rather than blocking it.
type Orchestrator struct {
	repo     domain.GenerationRepository
	store    domain.ObjectStore
	newGen   GeneratorFactory
	resolver *imagegen.Resolver
	logger   zerolog.Logger
	cfg      Config

	queue     chan queuedJob
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewOrchestrator(repo domain.GenerationRepository, store domain.ObjectStore, newGen GeneratorFactory, resolver *imagegen.Resolver, logger zerolog.Logger, cfg Config) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.MaxActivePerUser < 1 {
		cfg.MaxActivePerUser = 1
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 10 * time.Minute
	}
	o := &Orchestrator{
		repo:     repo,
		store:    store,
		newGen:   newGen,
		resolver: resolver,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		cfg:      cfg,
		queue:    make(chan queuedJob, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	return o
}

// Close drains the queue and waits for in-flight jobs to finish.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.queue) })
	o.wg.Wait()
}

// Submit validates admission, persists the pending job row and enqueues it.
// The active-job count and the insert are separate statements, so two
// near-simultaneous submissions from one user can both pass the check; the
// limit is a throttle, not a hard guarantee.
func (o *Orchestrator) Submit(ctx context.Context, userID string, req SubmitRequest) (*domain.Generation, error) {
	token := strings.TrimSpace(req.APIKey)
	if token == "" {
		token = o.cfg.GlobalAPIToken
	}
	if token == "" {
		return nil, domain.ErrMissingCredential
	}

	active, err := o.repo.CountActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count active jobs: %w", err)
	}
	if active >= o.cfg.MaxActivePerUser {
		return nil, domain.ErrConcurrencyLimit
	}

	refs, uploaded := o.persistReferences(ctx, req.ReferenceImages)

	gen := &domain.Generation{
		ID:             uuid.NewString(),
		UserID:         userID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Mode:           req.Mode,
		Resolution:     req.Resolution,
		AspectRatio:    req.AspectRatio,
		GuidanceScale:  req.GuidanceScale,
		Steps:          req.Steps,
		Seed:           req.Seed,
		Status:         domain.StatusPending,
		Metadata: domain.Metadata{
			ReferenceImageCount: len(refs),
			ReferenceImageURLs:  refs,
		},
	}
	if err := o.repo.Create(ctx, gen); err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}

	select {
	case o.queue <- queuedJob{ID: gen.ID, Token: token}:
	default:
		if derr := o.repo.Delete(ctx, gen.ID); derr != nil {
			o.logger.Error().Err(derr).Str("generation_id", gen.ID).Msg("failed to remove rejected job")
		}
		o.dropReferences(ctx, uploaded)
		return nil, domain.ErrQueueFull
	}

	o.logger.Info().
		Str("generation_id", gen.ID).
		Str("user_id", userID).
		Int("reference_images", len(refs)).
		Msg("generation queued")
	return gen, nil
}

// persistReferences uploads inline reference images to the object store so
// later jobs can share them by URL. An entry that cannot be decoded or
// stored keeps its inline encoding; URL entries pass through untouched.
// The second return lists the keys uploaded by this call so a rejected
// submission can remove them again.
func (o *Orchestrator) persistReferences(ctx context.Context, entries []string) (out, uploaded []string) {
	if len(entries) == 0 {
		return nil, nil
	}
	out = make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.HasPrefix(entry, "data:") {
			out = append(out, entry)
			continue
		}
		data, ok := imagegen.DecodeDataURI(entry)
		if !ok || !imagegen.DecodeProbe(data) {
			o.logger.Warn().Msg("reference image not decodable, keeping inline")
			out = append(out, entry)
			continue
		}
		format := imagegen.SniffFormat(data)
		key := storage.ReferencePrefix + artifactName(format)
		put, err := o.store.Put(ctx, data, key, imagegen.ContentTypeFor(format))
		if err != nil {
			o.logger.Warn().Err(err).Str("key", key).Msg("reference upload failed, keeping inline")
			out = append(out, entry)
			continue
		}
		out = append(out, put.URL)
		uploaded = append(uploaded, key)
	}
	return out, uploaded
}

// dropReferences removes reference blobs uploaded for a submission that was
// rejected before it reached the queue. Keys are unique per upload, so no
// other job can be pointing at them yet.
func (o *Orchestrator) dropReferences(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := o.store.Delete(ctx, key); err != nil {
			o.logger.Warn().Err(err).Str("key", key).Msg("cannot remove reference of rejected job")
		}
	}
}

func (o *Orchestrator) worker(n int) {
	defer o.wg.Done()
	log := o.logger.With().Int("worker", n).Logger()
	for job := range o.queue {
		o.process(log, job)
	}
}

func (o *Orchestrator) process(log zerolog.Logger, job queuedJob) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("generation_id", job.ID).Msg("worker panic")
			o.fail(job.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	ctx := context.Background()
	if err := o.repo.MarkRunning(ctx, job.ID); err != nil {
		log.Error().Err(err).Str("generation_id", job.ID).Msg("cannot mark job running")
		return
	}
	gen, err := o.repo.GetByID(ctx, job.ID)
	if err != nil {
		log.Error().Err(err).Str("generation_id", job.ID).Msg("cannot load job")
		return
	}

	start := time.Now()
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	out, err := o.newGen(job.Token).Generate(genCtx, buildRequest(gen))
	cancel()
	if err != nil {
		o.fail(job.ID, err.Error())
		return
	}

	res, err := o.resolver.Resolve(ctx, out)
	if err != nil {
		o.fail(job.ID, err.Error())
		return
	}

	resultURL, resultPath := res.URL, ""
	if len(res.Bytes) > 0 {
		format := imagegen.SniffFormat(res.Bytes)
		key := storage.ResultPrefix + artifactName(format)
		putCtx, putCancel := context.WithTimeout(ctx, storagePutTimeout)
		put, perr := o.store.Put(putCtx, res.Bytes, key, imagegen.ContentTypeFor(format))
		putCancel()
		switch {
		case perr == nil:
			resultURL, resultPath = put.URL, put.Path
		case res.URL != "":
			log.Warn().Err(perr).Str("generation_id", job.ID).Msg("result upload failed, keeping provider url")
		default:
			o.fail(job.ID, fmt.Sprintf("failed to store result image: %v", perr))
			return
		}
	}
	if resultURL == "" {
		o.fail(job.ID, "provider returned no usable result")
		return
	}

	if err := o.repo.Complete(ctx, job.ID, resultURL, resultPath); err != nil {
		log.Error().Err(err).Str("generation_id", job.ID).Msg("cannot record completion")
		return
	}
	log.Info().
		Str("generation_id", job.ID).
		Dur("elapsed", time.Since(start)).
		Str("result_url", resultURL).
		Msg("generation completed")
}

func (o *Orchestrator) fail(id, message string) {
	if len(message) > maxErrorLength {
		// The cut must not split a multibyte rune; Postgres rejects text
		// that is not valid UTF-8.
		message = strings.ToValidUTF8(message[:maxErrorLength], "")
	}
	if err := o.repo.Fail(context.Background(), id, message); err != nil {
		o.logger.Error().Err(err).Str("generation_id", id).Msg("cannot record failure")
		return
	}
	o.logger.Warn().Str("generation_id", id).Str("reason", message).Msg("generation failed")
}

// buildRequest reconstructs the provider request from the persisted row.
// Reference entries that were uploaded at submission come back as URLs;
// entries kept inline are decoded here.
func buildRequest(gen *domain.Generation) imagegen.Request {
	req := imagegen.Request{
		Prompt:         gen.Prompt,
		NegativePrompt: gen.NegativePrompt,
		Resolution:     gen.Resolution,
		AspectRatio:    gen.AspectRatio,
		GuidanceScale:  gen.GuidanceScale,
		Steps:          gen.Steps,
		Seed:           gen.Seed,
	}
	for _, entry := range gen.Metadata.ReferenceImageURLs {
		if strings.HasPrefix(entry, "data:") {
			if data, ok := imagegen.DecodeDataURI(entry); ok {
				req.References = append(req.References, imagegen.ReferenceImage{Data: data})
			}
			continue
		}
		req.References = append(req.References, imagegen.ReferenceImage{URL: entry})
	}
	return req
}

// artifactName yields object keys like 20240131_154501_a1b2c3d4.png.
func artifactName(format string) string {
	return time.Now().UTC().Format("20060102_150405") + "_" + uuid.NewString()[:8] + imagegen.ExtensionFor(format)
}
