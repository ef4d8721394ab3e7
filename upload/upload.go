// Package upload validates incoming images, pushes them to the object store
// with bounded retries, and records the resulting assets.
package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/media/validate"
	"github.com/indieinfra/mediavault/metrics"
	"github.com/indieinfra/mediavault/storage/objectstore"
	"github.com/indieinfra/mediavault/storage/records"
)

const compensationTimeout = 30 * time.Second

type Logger interface {
	Printf(format string, v ...any)
}

// Options carry per-call details supplied by the authoring surface.
type Options struct {
	// Folder overrides the configured upload folder.
	Folder string
	// Filename overrides the stored display name.
	Filename   string
	UploadedBy string
	// OnProgress is called on every status change and byte progress update.
	OnProgress func(media.UploadProgress)
}

// Result is the outcome of a single upload. Failures are reported here, never
// as a returned error.
type Result struct {
	Success          bool             `json:"success"`
	UploadID         string           `json:"uploadId,omitempty"`
	Data             *media.Asset     `json:"data,omitempty"`
	Error            string           `json:"error,omitempty"`
	Code             media.ErrorCode  `json:"code,omitempty"`
	ValidationResult *validate.Result `json:"validationResult,omitempty"`
}

type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Orchestrator struct {
	validator     *validate.Validator
	objects       objectstore.Store
	records       records.Store
	progress      *ProgressTable
	limiter       *Limiter
	metrics       metrics.Metrics
	logger        Logger
	retry         RetryPolicy
	folder        string
	maxConcurrent int
	now           func() time.Time
}

type Option func(*Orchestrator)

func WithMetrics(m metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithLimiter(l *Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

func New(cfg config.Upload, objects objectstore.Store, store records.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		validator: validate.New(validate.Policy{
			MaxFileSize:            cfg.MaxFileSize,
			AllowedTypes:           cfg.AllowedTypes,
			StripSensitiveMetadata: cfg.StripSensitiveMetadata,
		}),
		objects:  objects,
		records:  store,
		progress: NewProgressTable(cfg.ProgressTTL),
		limiter:  NewLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		metrics:  metrics.Noop{},
		logger:   log.Default(),
		retry: RetryPolicy{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
		},
		folder:        cfg.Folder,
		maxConcurrent: cfg.MaxConcurrent,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}
	if o.maxConcurrent <= 0 {
		o.maxConcurrent = 1
	}
	o.progress.now = o.now

	return o
}

// UploadImage runs validation, the remote upload and asset persistence for
// one file.
func (o *Orchestrator) UploadImage(ctx context.Context, file validate.File, opts Options) *Result {
	vr := o.validator.Validate(file)
	if !vr.IsValid {
		o.metrics.IncUploads("rejected")
		return &Result{
			Code:             media.CodeValidationFailed,
			Error:            "File validation failed: " + strings.Join(vr.Errors, ", "),
			ValidationResult: vr,
		}
	}

	if !o.limiter.Allow(opts.UploadedBy) {
		o.metrics.IncUploads("rejected")
		return &Result{Code: media.CodeRateLimited, Error: "Upload rate limit exceeded", ValidationResult: vr}
	}

	data := file.Data
	if vr.ProcessedFile != nil {
		data = vr.ProcessedFile
	}

	id, uctx := o.progress.start(ctx, file.Filename, int64(len(data)), opts.OnProgress)
	res := &Result{UploadID: id, ValidationResult: vr}

	if !o.progress.transition(id, media.StatusPending, media.StatusUploading) {
		return o.cancelled(res)
	}

	folder := opts.Folder
	if folder == "" {
		folder = o.folder
	}

	obj, err := o.uploadWithRetry(uctx, id, func() *objectstore.UploadInput {
		return &objectstore.UploadInput{
			Folder:      folder,
			Filename:    file.Filename,
			ContentType: vr.Metadata.DetectedMIME,
			Body:        &progressReader{r: bytes.NewReader(data), report: func(n int64) { o.progress.setBytes(id, n) }},
			Size:        int64(len(data)),
			Width:       vr.Metadata.Width,
			Height:      vr.Metadata.Height,
			Format:      vr.Metadata.Format,
		}
	})
	if err != nil {
		if o.progress.status(id) == media.StatusCancelled || uctx.Err() != nil {
			o.progress.finish(id, media.StatusCancelled, cancelledMessage)
			return o.cancelled(res)
		}
		return o.fail(res, id, classifyUploadError(err))
	}

	// Past this point CancelUpload no longer applies; if it won the race the
	// remote object must not outlive the call.
	if !o.progress.transition(id, media.StatusUploading, media.StatusProcessing) {
		o.compensate(ctx, obj.ObjectID)
		return o.cancelled(res)
	}

	asset := o.assetFor(obj, file, vr, folder, opts, int64(len(data)))
	if err := o.records.CreateAsset(ctx, asset); err != nil {
		o.compensate(ctx, obj.ObjectID)
		return o.fail(res, id, media.NewError(media.CodeUnknown, "failed to record uploaded asset", err))
	}

	o.progress.finish(id, media.StatusCompleted, "")
	o.metrics.IncUploads(string(media.StatusCompleted))

	res.Success = true
	res.Data = asset
	return res
}

// UploadMultiple uploads files concurrently. Results keep input order and one
// failure never affects the others.
func (o *Orchestrator) UploadMultiple(ctx context.Context, files []validate.File, opts Options) []*Result {
	results := make([]*Result, len(files))

	var g errgroup.Group
	g.SetLimit(o.maxConcurrent)

	for i, f := range files {
		g.Go(func() error {
			results[i] = o.UploadImage(ctx, f, opts)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) UploadProgress(uploadID string) (*media.UploadProgress, bool) {
	return o.progress.Get(uploadID)
}

// CancelUpload reports whether the upload was still cancellable.
func (o *Orchestrator) CancelUpload(uploadID string) bool {
	return o.progress.Cancel(uploadID)
}

func (o *Orchestrator) ActiveUploads() []media.UploadProgress {
	return o.progress.Active()
}

func (o *Orchestrator) PruneProgress() int {
	return o.progress.Prune()
}

func (o *Orchestrator) uploadWithRetry(ctx context.Context, id string, input func() *objectstore.UploadInput) (*objectstore.Object, error) {
	b := backoff.NewExponentialBackOff()
	if o.retry.InitialInterval > 0 {
		b.InitialInterval = o.retry.InitialInterval
	}
	if o.retry.MaxInterval > 0 {
		b.MaxInterval = o.retry.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	for attempt := 0; ; attempt++ {
		obj, err := o.objects.Upload(ctx, input())
		if err == nil {
			return obj, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) || attempt >= o.retry.MaxRetries {
			return nil, err
		}

		wait := b.NextBackOff()
		o.logger.Printf("upload %s attempt %d failed, retrying in %s: %v", id, attempt+1, wait, err)
		o.metrics.IncUploadRetries()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		o.progress.setBytes(id, 0)
	}
}

func retryable(err error) bool {
	return !errors.Is(err, objectstore.ErrQuotaExceeded) && !errors.Is(err, objectstore.ErrRejected)
}

func classifyUploadError(err error) *media.Error {
	switch {
	case errors.Is(err, objectstore.ErrQuotaExceeded):
		return media.NewError(media.CodeQuotaExceeded, "storage quota exceeded", err)
	case errors.Is(err, objectstore.ErrRejected):
		return media.NewError(media.CodeUnknown, "upload rejected by object store", err)
	default:
		return media.NewError(media.CodeNetworkError, "upload failed after retries", err)
	}
}

func (o *Orchestrator) fail(res *Result, id string, err *media.Error) *Result {
	o.progress.finish(id, media.StatusFailed, err.Error())
	o.metrics.IncUploads(string(media.StatusFailed))

	res.Code = err.Code
	res.Error = err.Error()
	return res
}

func (o *Orchestrator) cancelled(res *Result) *Result {
	o.metrics.IncUploads(string(media.StatusCancelled))

	res.Code = media.CodeCancelled
	res.Error = cancelledMessage
	return res
}

// compensate removes a remote object whose asset will never be recorded.
func (o *Orchestrator) compensate(ctx context.Context, objectID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := o.objects.Delete(ctx, objectID); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		o.logger.Printf("failed to remove abandoned object %s: %v", objectID, err)
	}
}

func (o *Orchestrator) assetFor(obj *objectstore.Object, file validate.File, vr *validate.Result, folder string, opts Options, size int64) *media.Asset {
	a := &media.Asset{
		ObjectID:         obj.ObjectID,
		URL:              obj.URL,
		Filename:         opts.Filename,
		OriginalFilename: file.Filename,
		ByteSize:         obj.Bytes,
		Width:            obj.Width,
		Height:           obj.Height,
		Format:           obj.Format,
		Folder:           folder,
		UploadedBy:       opts.UploadedBy,
		UploadedAt:       o.now().UTC(),
	}

	if a.Filename == "" {
		a.Filename = path.Base(obj.ObjectID)
	}
	if a.ByteSize == 0 {
		a.ByteSize = size
	}
	if a.Format == "" {
		a.Format = vr.Metadata.Format
	}
	if a.Width == 0 && a.Height == 0 {
		a.Width, a.Height = vr.Metadata.Width, vr.Metadata.Height
	}
	if len(vr.StrippedTags) > 0 {
		a.Metadata = map[string]string{"strippedTags": strings.Join(vr.StrippedTags, ",")}
	}

	return a
}

type progressReader struct {
	r      io.Reader
	read   atomic.Int64
	report func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.report(p.read.Add(int64(n)))
	}
	return n, err
}
