// Package pipeline runs one posting cycle: render, upload, create container,
// publish, comment, and optionally mirror to X. Each stage needs the previous
// one to have succeeded; the first failure ends the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mikequentel/circlegram/internal/config"
	"github.com/mikequentel/circlegram/internal/graph"
	"github.com/mikequentel/circlegram/internal/model"
	"github.com/mikequentel/circlegram/internal/objectstore"
	"github.com/mikequentel/circlegram/internal/render"
)

type Stage string

const (
	StageConfig  Stage = "config"
	StageRender  Stage = "render"
	StageUpload  Stage = "upload"
	StageCreate  Stage = "create"
	StagePublish Stage = "publish"
	StageComment Stage = "comment"
	StageMirror  Stage = "mirror"
	StageDone    Stage = "done"
)

// StageError names the stage a run failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage recorded in err, or "" if there is none.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

type Uploader interface {
	UploadFile(ctx context.Context, bucket, path, key string) (string, error)
}

// Poster is the Graph API surface a run needs.
type Poster interface {
	CreateContainer(ctx context.Context, userID, imageURL, caption string) (string, error)
	WaitContainerReady(ctx context.Context, containerID string) error
	Publish(ctx context.Context, userID, containerID string) (string, error)
	WaitMediaReady(ctx context.Context, mediaID string) error
	Comment(ctx context.Context, mediaID, message string) (string, error)
}

type Mirror interface {
	Post(ctx context.Context, imagePath, caption, hashtags string) (string, error)
}

type Ledger interface {
	Begin(ctx context.Context, run *model.Run) error
	Update(ctx context.Context, run *model.Run) error
}

// State is what one run has produced so far. Each stage reads the fields
// earlier stages filled in.
type State struct {
	RunID       string
	Image       render.Image
	ObjectKey   string
	PublicURL   string
	Caption     string
	ContainerID string
	PostID      string
	CommentID   string
	TweetID     string
	Stage       Stage // last stage that completed
}

type Runner struct {
	Render   func(render.Config) (render.Image, error)
	Uploader Uploader
	Graph    Poster
	Mirror   Mirror // nil skips the mirror stage
	Ledger   Ledger // nil disables run bookkeeping
	Logger   *slog.Logger
	Now      func() time.Time

	// SkipReadiness replaces the readiness polls with a single Settle wait.
	SkipReadiness bool
	// Settle is how long to wait before publishing or commenting when polls
	// are skipped or the status endpoint is unavailable.
	Settle time.Duration
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now()
}

// Run executes every stage in order and returns the final state. On failure
// the returned state holds whatever completed and err is a *StageError.
func (r *Runner) Run(ctx context.Context, cfg *config.Config) (*State, error) {
	st := &State{RunID: uuid.NewString()}
	log := r.logger().With("run_id", st.RunID)
	rec := r.begin(ctx, log, st)

	img, err := r.Render(cfg.Render)
	if err != nil {
		return st, r.fail(ctx, log, st, rec, StageRender, err)
	}
	st.Image = img
	st.ObjectKey = img.FileName()
	st.Stage = StageRender
	log.Info("rendered image", "stage", StageRender, "path", img.Path, "name", img.Name)
	r.record(ctx, log, st, rec, "", false)

	steps := []struct {
		stage Stage
		run   func() error
	}{
		{StageUpload, func() error {
			url, err := r.Uploader.UploadFile(ctx, cfg.BucketName, st.Image.Path, st.ObjectKey)
			st.PublicURL = url
			return err
		}},
		{StageCreate, func() error {
			st.Caption = Caption(cfg.Caption.Start, st.Image.Name, cfg.Caption.End)
			id, err := r.Graph.CreateContainer(ctx, cfg.IGUserID, st.PublicURL, st.Caption)
			st.ContainerID = id
			return err
		}},
		{StagePublish, func() error {
			if err := r.awaitReady(ctx, log, "container", st.ContainerID, r.Graph.WaitContainerReady); err != nil {
				return fmt.Errorf("container %s not ready: %w", st.ContainerID, err)
			}
			id, err := r.Graph.Publish(ctx, cfg.IGUserID, st.ContainerID)
			st.PostID = id
			return err
		}},
		{StageComment, func() error {
			if err := r.awaitReady(ctx, log, "post", st.PostID, r.Graph.WaitMediaReady); err != nil {
				return fmt.Errorf("post %s not ready: %w", st.PostID, err)
			}
			id, err := r.Graph.Comment(ctx, st.PostID, cfg.Hashtags)
			st.CommentID = id
			return err
		}},
	}
	if r.Mirror != nil {
		steps = append(steps, struct {
			stage Stage
			run   func() error
		}{StageMirror, func() error {
			id, err := r.Mirror.Post(ctx, st.Image.Path, st.Caption, cfg.Hashtags)
			st.TweetID = id
			return err
		}})
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return st, r.fail(ctx, log, st, rec, step.stage, err)
		}
		if err := step.run(); err != nil {
			return st, r.fail(ctx, log, st, rec, step.stage, err)
		}
		st.Stage = step.stage
		log.Info("stage complete", stageAttrs(st, step.stage)...)
		r.record(ctx, log, st, rec, "", false)
	}

	st.Stage = StageDone
	r.record(ctx, log, st, rec, "", true)
	log.Info("run complete", "post_id", st.PostID, "comment_id", st.CommentID)
	return st, nil
}

// DryRun renders the image and reports what would be posted without any
// network call.
func (r *Runner) DryRun(ctx context.Context, cfg *config.Config, publicURLPrefix string) (*State, error) {
	st := &State{RunID: uuid.NewString()}
	log := r.logger().With("run_id", st.RunID, "dry_run", true)

	img, err := r.Render(cfg.Render)
	if err != nil {
		return st, r.fail(ctx, log, st, nil, StageRender, err)
	}
	st.Image = img
	st.ObjectKey = img.FileName()
	st.Stage = StageRender
	st.Caption = Caption(cfg.Caption.Start, img.Name, cfg.Caption.End)
	st.PublicURL = objectstore.PublicURL(publicURLPrefix, cfg.BucketName, st.ObjectKey)

	log.Info("would post",
		"path", img.Path,
		"image_url", st.PublicURL,
		"caption", st.Caption,
		"comment", cfg.Hashtags,
		"mirror", r.Mirror != nil)
	return st, nil
}

// awaitReady runs the readiness poll for id. When polls are skipped, or the
// status endpoint answers with a plain client error, it waits Settle once.
func (r *Runner) awaitReady(ctx context.Context, log *slog.Logger, what, id string, wait func(context.Context, string) error) error {
	if r.SkipReadiness {
		return r.settle(ctx)
	}
	err := wait(ctx, id)
	if err == nil || !graph.Unavailable(err) {
		return err
	}
	log.Warn("readiness check unavailable, waiting instead", what+"_id", id, "settle", r.Settle, "err", err)
	return r.settle(ctx)
}

func (r *Runner) settle(ctx context.Context) error {
	if r.Settle <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func stageAttrs(st *State, s Stage) []any {
	attrs := []any{"stage", s}
	switch s {
	case StageUpload:
		attrs = append(attrs, "url", st.PublicURL)
	case StageCreate:
		attrs = append(attrs, "container_id", st.ContainerID, "caption", st.Caption)
	case StagePublish:
		attrs = append(attrs, "post_id", st.PostID)
	case StageComment:
		attrs = append(attrs, "comment_id", st.CommentID)
	case StageMirror:
		attrs = append(attrs, "tweet_id", st.TweetID)
	}
	return attrs
}

func (r *Runner) fail(ctx context.Context, log *slog.Logger, st *State, rec *model.Run, stage Stage, err error) error {
	serr := &StageError{Stage: stage, Err: err}
	log.Error("run failed", "stage", stage, "last_completed", st.Stage, "err", err)
	r.record(ctx, log, st, rec, serr.Error(), true)
	return serr
}

func (r *Runner) begin(ctx context.Context, log *slog.Logger, st *State) *model.Run {
	if r.Ledger == nil {
		return nil
	}
	rec := &model.Run{
		RunID:     st.RunID,
		Name:      st.Image.Name,
		ImagePath: st.Image.Path,
		Stage:     string(st.Stage),
		StartedAt: r.now(),
	}
	if err := r.Ledger.Begin(ctx, rec); err != nil {
		log.Error("ledger: begin run", "err", err)
		return nil
	}
	return rec
}

// record copies the state into the ledger row. Ledger errors are logged; they
// never change the outcome of a run.
func (r *Runner) record(ctx context.Context, log *slog.Logger, st *State, rec *model.Run, errText string, finished bool) {
	if r.Ledger == nil || rec == nil {
		return
	}
	rec.Name = st.Image.Name
	rec.ImagePath = st.Image.Path
	rec.ObjectKey = st.ObjectKey
	rec.PublicURL = st.PublicURL
	rec.ContainerID = st.ContainerID
	rec.PostID = st.PostID
	rec.CommentID = st.CommentID
	rec.TweetID = st.TweetID
	rec.Stage = string(st.Stage)
	rec.Error = errText
	if finished {
		t := r.now()
		rec.FinishedAt = &t
	}
	// a cancelled run still gets its final row written
	if err := r.Ledger.Update(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("ledger: update run", "err", err)
	}
}
