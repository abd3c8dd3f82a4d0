package engine

import (
	"context"
	"sync"

	"codesandbox/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ImageSource is the part of the engine client that manages images.
type ImageSource interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string) error
}

// ImageRegistry makes sure each image is present once per process.
// Concurrent callers for the same image share one pull.
type ImageRegistry struct {
	src   ImageSource
	group singleflight.Group
	mu    sync.Mutex
	ready map[string]bool
}

// NewImageRegistry creates an empty registry.
func NewImageRegistry(src ImageSource) *ImageRegistry {
	return &ImageRegistry{src: src, ready: make(map[string]bool)}
}

// Ensure blocks until ref is available locally or the pull fails.
// A failed pull is not remembered, so the next session retries.
func (r *ImageRegistry) Ensure(ctx context.Context, ref string) error {
	r.mu.Lock()
	ok := r.ready[ref]
	r.mu.Unlock()
	if ok {
		return nil
	}
	_, err, _ := r.group.Do(ref, func() (interface{}, error) {
		exists, err := r.src.ImageExists(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !exists {
			logger.Info(ctx, "pulling image", zap.String("image", ref))
			if err := r.src.PullImage(ctx, ref); err != nil {
				return nil, err
			}
			logger.Info(ctx, "image pulled", zap.String("image", ref))
		}
		r.mu.Lock()
		r.ready[ref] = true
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

// Warmup ensures every image, stopping at the first failure.
func (r *ImageRegistry) Warmup(ctx context.Context, refs ...string) error {
	for _, ref := range refs {
		if err := r.Ensure(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}
