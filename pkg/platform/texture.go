package platform

import (
	"sync/atomic"

	"github.com/go-drift/videoplayer/pkg/engine"
)

// TextureEntry is a host rendering target. Its id doubles as the player id.
type TextureEntry interface {
	ID() int64
	// Surface returns the surface the engine renders into.
	Surface() engine.Surface
	Release()
}

// TextureRegistry allocates rendering targets.
type TextureRegistry interface {
	CreateSurfaceTexture() (TextureEntry, error)
}

// HeadlessTextures hands out sequential ids with no backing surface memory.
// It suits engines that own their own output, such as an mpv window.
type HeadlessTextures struct {
	next atomic.Int64
}

// CreateSurfaceTexture implements TextureRegistry.
func (h *HeadlessTextures) CreateSurfaceTexture() (TextureEntry, error) {
	return &headlessTexture{id: h.next.Add(1)}, nil
}

type headlessTexture struct {
	id       int64
	released atomic.Bool
}

func (t *headlessTexture) ID() int64 { return t.id }

func (t *headlessTexture) Surface() engine.Surface { return headlessSurface{} }

func (t *headlessTexture) Release() { t.released.Store(true) }

type headlessSurface struct{}

func (headlessSurface) Release() {}
