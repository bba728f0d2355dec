// Package render rasterizes a landing page into a paginated PDF when no
// document link can be found. Each attempt is a Session moving
// Idle -> Loading -> Rendering -> Done | Failed.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/compose"
	"github.com/Sriram-PR/bookfetch/pkg/config"
	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

// DocumentValidator accepts or rejects (and removes) a written document
type DocumentValidator interface {
	Validate(path string) bool
}

// PageRenderer produces a PDF from a rendered web page
type PageRenderer struct {
	browser   Browser
	validator DocumentValidator
	cfg       config.RendererConfig
	log       *logrus.Entry
}

// NewPageRenderer creates a PageRenderer. cfg is expected to be validated.
func NewPageRenderer(browser Browser, validator DocumentValidator, cfg config.RendererConfig, log *logrus.Entry) *PageRenderer {
	return &PageRenderer{browser: browser, validator: validator, cfg: cfg, log: log}
}

// Render loads url, waits for its layout to settle and writes the paginated capture to destPath.
// Navigation and validation failures are terminal; there is no retry.
func (r *PageRenderer) Render(ctx context.Context, url, destPath string) (string, error) {
	return r.RenderSession(ctx, NewSession(url), destPath)
}

// RenderSession is Render driving a caller-owned session, which must be idle.
func (r *PageRenderer) RenderSession(ctx context.Context, s *Session, destPath string) (string, error) {
	log := r.log.WithField("url", s.URL)
	if err := s.Transition(StateIdle, StateLoading); err != nil {
		return "", err
	}

	fail := func(err error) (string, error) {
		wrapped := fmt.Errorf("%w: %w", utils.ErrRenderFailure, err)
		if tErr := s.Fail(wrapped); tErr != nil {
			log.Errorf("Render session in unexpected state: %v", tErr)
		}
		return "", wrapped
	}

	tab, err := r.browser.Open(ctx, s.URL)
	if err != nil {
		return fail(err)
	}
	defer tab.Close()

	height, err := r.settle(ctx, tab)
	if err != nil {
		return fail(err)
	}
	log.WithField("height", height).Debug("Layout settled")

	if err := s.Transition(StateLoading, StateRendering); err != nil {
		return "", err
	}

	shot, err := tab.Screenshot(ctx)
	if err != nil {
		return fail(err)
	}
	tiles, err := SliceA4(shot)
	if err != nil {
		return fail(err)
	}
	if err := compose.WriteImagePages(destPath, tiles, compose.Options{Title: s.URL, Compress: true}); err != nil {
		return fail(err)
	}
	if !r.validator.Validate(destPath) {
		return fail(fmt.Errorf("%w: rendered document rejected", utils.ErrInvalidDocument))
	}

	if err := s.Transition(StateRendering, StateDone); err != nil {
		return "", err
	}
	log.WithFields(logrus.Fields{"path": destPath, "pages": len(tiles)}).Info("Page rendered")
	return destPath, nil
}

// settle waits settle_min, then polls the layout height until it has read the
// same value settle_stable_polls times in a row or settle_max has elapsed.
// Returns the last height read.
func (r *PageRenderer) settle(ctx context.Context, tab Tab) (int64, error) {
	start := time.Now()
	if err := sleepCtx(ctx, r.cfg.SettleMin); err != nil {
		return 0, err
	}

	var last int64 = -1
	same := 0
	for {
		height, err := tab.ContentHeight(ctx)
		if err != nil {
			return 0, err
		}
		if height == last {
			same++
		} else {
			last, same = height, 1
		}
		if same >= r.cfg.SettleStablePolls {
			return last, nil
		}
		if time.Since(start) >= r.cfg.SettleMax {
			r.log.WithField("height", last).Debug("Layout still changing at settle_max, capturing anyway")
			return last, nil
		}
		if err := sleepCtx(ctx, r.cfg.SettlePollInterval); err != nil {
			return 0, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
