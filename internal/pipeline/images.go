package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"partsbin/internal"
)

// maxImageBytes bounds a single downloaded image.
const maxImageBytes = 8 << 20

// RateLimiter spaces outbound requests to a marketplace so previews do not
// hammer its image CDN. Safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewRateLimiter(requestsPerSecond int) *RateLimiter {
	if requestsPerSecond < 1 {
		requestsPerSecond = 1
	}
	return &RateLimiter{interval: time.Second / time.Duration(requestsPerSecond)}
}

// WaitTurn blocks until the next request slot, or until ctx is done.
func (l *RateLimiter) WaitTurn(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	next := l.last.Add(l.interval)
	if next.Before(now) {
		next = now
	}
	l.last = next
	l.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ImageStager downloads product thumbnails referenced by parsed items into
// a local directory. Everything about it is best effort: a failed download
// logs a warning and leaves the item without a local path, never failing
// the preview.
type ImageStager struct {
	dir     string
	client  *http.Client
	limiter *RateLimiter
	workers int
	log     *zap.Logger
}

func NewImageStager(dir string, requestsPerSecond, workers int, timeout time.Duration, log *zap.Logger) *ImageStager {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ImageStager{
		dir:     dir,
		client:  &http.Client{Timeout: timeout},
		limiter: NewRateLimiter(requestsPerSecond),
		workers: workers,
		log:     log,
	}
}

// Stage fetches images for every item across the given orders, setting
// LocalImagePath on success. Returns the number of images staged.
func (s *ImageStager) Stage(ctx context.Context, orders []internal.Order) int {
	if s.dir == "" {
		return 0
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Warn("image directory unavailable", zap.String("dir", s.dir), zap.Error(err))
		return 0
	}

	type target struct {
		order, item int
		url         string
	}
	var targets []target
	for oi := range orders {
		for ii := range orders[oi].Items {
			if u := orders[oi].Items[ii].ImageURL; u != "" {
				targets = append(targets, target{order: oi, item: ii, url: u})
			}
		}
	}
	if len(targets) == 0 {
		return 0
	}

	var mu sync.Mutex
	staged := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			path, err := s.fetch(gctx, t.url)
			if err != nil {
				s.log.Warn("image fetch failed", zap.String("url", t.url), zap.Error(err))
				return nil
			}
			mu.Lock()
			orders[t.order].Items[t.item].LocalImagePath = path
			staged++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return staged
}

// fetch downloads one image with a single retry, storing it under a name
// derived from the URL hash so repeated previews reuse the same file.
func (s *ImageStager) fetch(ctx context.Context, url string) (string, error) {
	sum := sha256.Sum256([]byte(url))
	name := hex.EncodeToString(sum[:16]) + extensionFor(url)
	path := filepath.Join(s.dir, name)

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
		if err := s.limiter.WaitTurn(ctx); err != nil {
			return "", err
		}
		if lastErr = s.download(ctx, url, path); lastErr == nil {
			return path, nil
		}
	}
	return "", lastErr
}

func (s *ImageStager) download(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(s.dir, ".staging-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, maxImageBytes)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func extensionFor(url string) string {
	trimmed := url
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	switch ext := strings.ToLower(filepath.Ext(trimmed)); ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	default:
		return ".jpg"
	}
}
