package job

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/maauso/productshot-api/internal/compose"
	"github.com/maauso/productshot-api/internal/perturb"
	"github.com/maauso/productshot-api/internal/storage"
	"github.com/maauso/productshot-api/internal/video"
)

var (
	// ErrJobNotReady is returned when the artifact of an unfinished job is requested.
	ErrJobNotReady = errors.New("job is not completed")
	// ErrNoArtifact is returned when a completed job has no local artifact.
	ErrNoArtifact = errors.New("job has no artifact")
	// ErrNoInput is returned when a job is created without an upload.
	ErrNoInput = errors.New("job input is missing")
)

// FrameRemover is the video pipeline the service drives.
type FrameRemover interface {
	RemoveRandomFrames(ctx context.Context, req video.Request) (*video.Result, error)
}

// Upload is a named input stream, usually a multipart file part.
type Upload struct {
	Name string
	Body io.Reader
}

// CompositeInput contains the parameters of a compositing batch.
type CompositeInput struct {
	Backgrounds []Upload
	Products    []Upload

	ProductMaxEdge int
	OutputSize     int
	Format         compose.Format

	MaskEnabled        bool
	MaskColor          color.RGBA
	MaskOpacityPercent int
	Logo               compose.LogoVariant
	Placement          compose.Placement

	PushToRemote bool
}

// PerturbInput contains the parameters of a perturbation job.
type PerturbInput struct {
	Image         Upload
	Copies        int
	PixelsPerCopy int
	PushToRemote  bool
}

// VideoInput contains the parameters of a frame-removal job.
type VideoInput struct {
	Video        Upload
	PushToRemote bool
}

type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service accepts pipeline jobs, runs them in the background and tracks
// their state in a Repository. Uploaded inputs live in temp storage for
// the duration of the run; artifacts live in the job directory until the
// job is deleted.
type Service struct {
	repo     Repository
	store    storage.Storage
	composer *compose.BatchComposer
	logos    *compose.LogoStore
	remover  FrameRemover
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]*runningJob
	wg      sync.WaitGroup
}

// NewService creates a new Service.
func NewService(
	repo Repository,
	store storage.Storage,
	composer *compose.BatchComposer,
	logos *compose.LogoStore,
	remover FrameRemover,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		store:    store,
		composer: composer,
		logos:    logos,
		remover:  remover,
		logger:   logger,
		running:  make(map[string]*runningJob),
	}
}

// CreateCompositeJob validates the batch parameters, stores the uploads
// and starts compositing in the background.
func (s *Service) CreateCompositeJob(ctx context.Context, in CompositeInput) (*Job, error) {
	params := compose.BatchRequest{
		ProductMaxEdge:     in.ProductMaxEdge,
		OutputSize:         in.OutputSize,
		Format:             in.Format,
		MaskEnabled:        in.MaskEnabled,
		MaskColor:          in.MaskColor,
		MaskOpacityPercent: in.MaskOpacityPercent,
		Placement:          in.Placement,
	}
	// Placeholders so Validate can check list sizes before anything is written.
	params.Backgrounds = make([]compose.Source, len(in.Backgrounds))
	params.Products = make([]compose.Source, len(in.Products))
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var saved []string
	backgrounds, err := s.saveSources(ctx, in.Backgrounds, &saved)
	if err != nil {
		return nil, err
	}
	products, err := s.saveSources(ctx, in.Products, &saved)
	if err != nil {
		return nil, err
	}
	params.Backgrounds = backgrounds
	params.Products = products

	job := New(KindComposite)
	job.PushToRemote = in.PushToRemote

	s.logger.Info("creating composite job",
		slog.String("job_id", job.ID),
		slog.Int("backgrounds", len(backgrounds)),
		slog.Int("products", len(products)),
		slog.Int("output_size", in.OutputSize),
		slog.String("format", string(in.Format)),
		slog.String("logo", string(in.Logo)),
		slog.String("placement", in.Placement.String()),
	)

	return s.submit(ctx, job, saved, func(ctx context.Context, j *Job) error {
		return s.runComposite(ctx, j, params, in.Logo)
	})
}

// CreatePerturbJob stores the image and starts generating copies in the
// background.
func (s *Service) CreatePerturbJob(ctx context.Context, in PerturbInput) (*Job, error) {
	if in.Image.Body == nil {
		return nil, ErrNoInput
	}
	if in.Copies < 1 {
		return nil, fmt.Errorf("%w: got %d", perturb.ErrInvalidCopies, in.Copies)
	}
	if in.PixelsPerCopy < 0 {
		return nil, fmt.Errorf("%w: got %d", perturb.ErrInvalidPixelCount, in.PixelsPerCopy)
	}

	path, err := s.store.SaveTemp(ctx, in.Image.Name, in.Image.Body)
	if err != nil {
		return nil, fmt.Errorf("save image: %w", err)
	}

	job := New(KindPerturb)
	job.PushToRemote = in.PushToRemote

	s.logger.Info("creating perturbation job",
		slog.String("job_id", job.ID),
		slog.String("image", in.Image.Name),
		slog.Int("copies", in.Copies),
		slog.Int("pixels", in.PixelsPerCopy),
	)

	name := in.Image.Name
	return s.submit(ctx, job, []string{path}, func(ctx context.Context, j *Job) error {
		return s.runPerturb(ctx, j, path, name, in.Copies, in.PixelsPerCopy)
	})
}

// CreateVideoJob stores the video and starts frame removal in the background.
func (s *Service) CreateVideoJob(ctx context.Context, in VideoInput) (*Job, error) {
	if in.Video.Body == nil {
		return nil, ErrNoInput
	}

	path, err := s.store.SaveTemp(ctx, in.Video.Name, in.Video.Body)
	if err != nil {
		return nil, fmt.Errorf("save video: %w", err)
	}

	job := New(KindFrameRemoval)
	job.PushToRemote = in.PushToRemote

	s.logger.Info("creating frame removal job",
		slog.String("job_id", job.ID),
		slog.String("video", in.Video.Name),
	)

	name := in.Video.Name
	return s.submit(ctx, job, []string{path}, func(ctx context.Context, j *Job) error {
		return s.runFrameRemoval(ctx, j, path, name)
	})
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all known jobs, newest first.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// OpenArtifact returns the completed job and a reader over its artifact.
// The caller must close the reader.
func (s *Service) OpenArtifact(ctx context.Context, id string) (*Job, io.ReadCloser, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != StatusCompleted {
		return job, nil, ErrJobNotReady
	}
	if job.OutputPath == "" {
		return job, nil, ErrNoArtifact
	}

	rc, err := s.store.LoadTemp(ctx, job.OutputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return job, nil, ErrNoArtifact
		}
		return job, nil, err
	}
	return job, rc, nil
}

// DeleteJob cancels the job if it is still running, then removes its
// artifact and its record.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	run, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		run.cancel()
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := s.store.RemoveJobDir(id); err != nil {
		s.logger.Warn("failed to remove job directory",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// Shutdown cancels running jobs and waits for them to stop or for ctx to
// expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, run := range s.running {
		run.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every background job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) saveSources(ctx context.Context, uploads []Upload, saved *[]string) ([]compose.Source, error) {
	sources := make([]compose.Source, 0, len(uploads))
	for _, u := range uploads {
		if u.Body == nil {
			_ = s.store.CleanupTemp(context.WithoutCancel(ctx), *saved)
			return nil, fmt.Errorf("%w: %s", ErrNoInput, u.Name)
		}
		path, err := s.store.SaveTemp(ctx, u.Name, u.Body)
		if err != nil {
			_ = s.store.CleanupTemp(context.WithoutCancel(ctx), *saved)
			return nil, fmt.Errorf("save %s: %w", u.Name, err)
		}
		*saved = append(*saved, path)
		sources = append(sources, compose.FileBackedImage{Path: path, Label: u.Name})
	}
	return sources, nil
}

// submit persists the job and runs fn in a goroutine detached from the
// request context. inputs are removed once fn returns.
func (s *Service) submit(ctx context.Context, job *Job, inputs []string, fn func(context.Context, *Job) error) (*Job, error) {
	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		_ = s.store.CleanupTemp(context.WithoutCancel(ctx), inputs)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &runningJob{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.running[job.ID] = run
	s.mu.Unlock()

	snapshot := job.Clone()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(run.done)
		defer func() {
			s.mu.Lock()
			delete(s.running, job.ID)
			s.mu.Unlock()
			cancel()
		}()
		defer func() {
			if err := s.store.CleanupTemp(context.Background(), inputs); err != nil {
				s.logger.Warn("failed to clean up inputs",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
		}()

		s.execute(runCtx, job, fn)
	}()

	return snapshot, nil
}

func (s *Service) execute(ctx context.Context, job *Job, fn func(context.Context, *Job) error) {
	logger := s.logger.With(slog.String("job_id", job.ID), slog.String("kind", string(job.Kind)))

	if err := job.Start(); err != nil {
		logger.Error("failed to start job", slog.String("error", err.Error()))
		return
	}
	s.persist(job, logger)

	err := fn(ctx, job)
	if ctx.Err() != nil {
		_ = job.Cancel()
		s.persist(job, logger)
		logger.Info("job cancelled")
		return
	}
	if err != nil {
		_ = job.Fail(err.Error())
		s.persist(job, logger)
		logger.Error("job failed", slog.String("error", err.Error()))
		return
	}

	if job.PushToRemote {
		s.publish(ctx, job, logger)
	}

	if err := job.Complete(); err != nil {
		logger.Error("failed to complete job", slog.String("error", err.Error()))
		return
	}
	s.persist(job, logger)
	logger.Info("job completed", slog.String("output", job.Clone().OutputPath))
}

// publish uploads the artifact. Failures are recorded as warnings and the
// local artifact stays downloadable.
func (s *Service) publish(ctx context.Context, job *Job, logger *slog.Logger) {
	snap := job.Clone()
	if !s.store.RemoteEnabled() {
		job.AddWarning("remote upload requested but no remote storage is configured")
		return
	}

	f, err := os.Open(snap.OutputPath)
	if err != nil {
		job.AddWarning(fmt.Sprintf("remote upload failed: %v", err))
		return
	}
	defer func() { _ = f.Close() }()

	size := int64(-1)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	url, err := s.store.Upload(ctx, storage.ArtifactKey(snap.ID, snap.DownloadName), snap.ContentType, f, size)
	if err != nil {
		logger.Warn("artifact upload failed", slog.String("error", err.Error()))
		job.AddWarning(fmt.Sprintf("remote upload failed: %v", err))
		return
	}
	job.SetURL(url)
	logger.Info("artifact uploaded", slog.String("url", url))
}

func (s *Service) persist(job *Job, logger *slog.Logger) {
	if err := s.repo.Save(context.Background(), job); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}

// progressReporter saves the job each time the integer percentage changes.
// Pipelines report up to 99; completion sets 100.
func (s *Service) progressReporter(job *Job) func(fraction float64) {
	logger := s.logger.With(slog.String("job_id", job.ID))
	last := -1
	var mu sync.Mutex
	return func(fraction float64) {
		pct := min(99, max(0, int(fraction*100)))
		mu.Lock()
		defer mu.Unlock()
		if pct == last {
			return
		}
		last = pct
		job.UpdateProgress(pct)
		s.persist(job, logger)
	}
}

func (s *Service) runComposite(ctx context.Context, job *Job, req compose.BatchRequest, logo compose.LogoVariant) error {
	dir, err := s.store.JobDir(job.ID)
	if err != nil {
		return err
	}

	img, err := s.logos.Load(logo)
	if err != nil {
		job.AddWarning(fmt.Sprintf("logo %q unavailable, composed without it", logo))
	}
	req.Logo = img

	report := s.progressReporter(job)
	req.Progress = func(completed, total int) {
		report(float64(completed) / float64(total))
	}

	name := compose.ArchiveName(req.OutputSize, req.Format)
	out := filepath.Join(dir, name)
	f, err := os.Create(out) // #nosec G304 - path is inside the job directory
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	res, runErr := s.composer.Run(ctx, req, f)
	closeErr := f.Close()
	if res != nil {
		job.SetSummary(compositeSummary(res))
	}
	if runErr != nil {
		_ = os.Remove(out)
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("close archive: %w", closeErr)
	}

	if n := len(res.Failed); n > 0 {
		job.AddWarning(fmt.Sprintf("%d of %d compositions failed", n, res.Total))
	}
	job.SetOutput(out, "application/zip", name)
	return nil
}

func compositeSummary(res *compose.BatchResult) *Summary {
	sum := &Summary{Total: res.Total, Succeeded: res.Succeeded, Entries: res.Entries}
	for _, pe := range res.Failed {
		sum.Failed = append(sum.Failed, FailedInput{
			Background: pe.Background,
			Product:    pe.Product,
			Error:      pe.Err.Error(),
		})
	}
	return sum
}

func (s *Service) runPerturb(ctx context.Context, job *Job, path, name string, copies, pixels int) error {
	dir, err := s.store.JobDir(job.ID)
	if err != nil {
		return err
	}

	img, err := compose.FileBackedImage{Path: path, Label: name}.Decode()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := perturb.Perturb(img, copies, pixels, nil)
	if err != nil {
		return err
	}
	job.UpdateProgress(50)
	s.persist(job, s.logger)

	base := compose.BaseName(name)
	archive := base + "_copies.zip"
	archivePath := filepath.Join(dir, archive)
	f, err := os.Create(archivePath) // #nosec G304 - path is inside the job directory
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	entries, err := perturb.WriteArchive(f, base, out)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close archive: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(archivePath)
		return err
	}

	job.SetSummary(&Summary{Total: copies, Succeeded: copies, Entries: entries})
	job.SetOutput(archivePath, "application/zip", archive)
	return nil
}

func (s *Service) runFrameRemoval(ctx context.Context, job *Job, path, name string) error {
	dir, err := s.store.JobDir(job.ID)
	if err != nil {
		return err
	}

	download := compose.BaseName(name) + "_frames_removed.mp4"
	out := filepath.Join(dir, download)
	res, err := s.remover.RemoveRandomFrames(ctx, video.Request{
		InputPath:  path,
		OutputPath: out,
		Progress:   s.progressReporter(job),
	})
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		job.AddWarning(w)
	}
	job.SetSummary(&Summary{
		FramesRemoved: res.FramesRemoved,
		FramesWritten: res.FramesWritten,
		TotalFrames:   res.TotalFrames,
		FPS:           res.Metadata.FPS,
		Width:         res.Metadata.Width,
		Height:        res.Metadata.Height,
		HasAudio:      res.HasAudio,
		Remediation:   string(res.Remediation),
	})
	job.SetOutput(out, "video/mp4", download)
	return nil
}
