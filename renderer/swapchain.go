package renderer

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/corelog"
)

// AcquireResult mirrors the surface-acquire outcomes the caller needs to
// distinguish: a normal image, one that still presents but should trigger a
// resize soon, one that cannot be used at all, and a fatal surface loss.
type AcquireResult int

const (
	AcquireOK AcquireResult = iota
	AcquireSuboptimal
	AcquireOutOfDate
	AcquireSurfaceLost
)

// SwapchainBackend is the seam into the surface/swapchain object itself,
// kept separate from Backend since only the root engine's platform layer
// deals with surfaces.
type SwapchainBackend interface {
	AcquireNextImage(swapchain vk.Swapchain, semaphore vk.Semaphore) (imageIndex uint32, result AcquireResult, err error)
	QueuePresent(queueFamily uint32, swapchain vk.Swapchain, imageIndex uint32, wait []vk.Semaphore) (result AcquireResult, err error)
	RecreateSwapchain(width, height uint32) (vk.Swapchain, []vk.Image, []vk.ImageView, error)
}

// SurfaceNextTex acquires the next swapchain image. AcquireOutOfDate and
// AcquireSurfaceLost are reported to the caller rather than retried here —
// resize is an explicit caller-driven operation.
func (r *Renderer) SurfaceNextTex(sb SwapchainBackend, swapchain vk.Swapchain, semaphore vk.Semaphore) (uint32, AcquireResult, error) {
	idx, result, err := sb.AcquireNextImage(swapchain, semaphore)
	if err != nil {
		return 0, AcquireSurfaceLost, fmt.Errorf("renderer: surface next tex: %w", err)
	}
	if result == AcquireOutOfDate {
		corelog.Debug("renderer: swapchain out of date on acquire")
	}
	return idx, result, nil
}

// SurfacePresent presents imageIndex, waiting on the supplied semaphores
// (typically the frame's render-complete semaphore).
func (r *Renderer) SurfacePresent(sb SwapchainBackend, queueFamily uint32, swapchain vk.Swapchain, imageIndex uint32, wait []vk.Semaphore) (AcquireResult, error) {
	result, err := sb.QueuePresent(queueFamily, swapchain, imageIndex, wait)
	if err != nil {
		return AcquireSurfaceLost, fmt.Errorf("renderer: surface present: %w", err)
	}
	return result, nil
}

// SurfaceResize tears down and recreates the swapchain at the new
// dimensions. Every cached framebuffer is invalidated by bumping every
// registered render pass's epoch, rather than hunting for the specific
// framebuffers that referenced the old swapchain images, since a resize is
// already a full-stop event with no in-flight frame straddling it.
func (r *Renderer) SurfaceResize(sb SwapchainBackend, width, height uint32) (vk.Swapchain, []vk.Image, []vk.ImageView, error) {
	swapchain, images, views, err := sb.RecreateSwapchain(width, height)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("renderer: surface resize: %w", err)
	}
	r.invalidateFramebuffers()
	return swapchain, images, views, nil
}

func (r *Renderer) invalidateFramebuffers() {
	r.cache.InvalidateAllFramebuffers()
}
