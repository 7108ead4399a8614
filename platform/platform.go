// Package platform is the thin glfw collaborator: window creation, the
// required-instance-extension query, and surface creation. Everything else
// about bring-up (instance/device/swapchain) is out of scope for this
// package and for the root engine type, which is handed an already
// initialized device backend.
package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/corelog"
)

func init() {
	// glfw event handling must run on the thread that created the window.
	runtime.LockOSThread()
}

// Window owns one glfw window used as a Vulkan presentation surface.
type Window struct {
	handle *glfw.Window
}

func CreateWindow(title string, width, height int) (*Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("platform: glfw init: %w", err)
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	w, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("platform: create window: %w", err)
	}

	win := &Window{handle: w}
	w.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		corelog.Debug("platform: framebuffer resized to %dx%d", width, height)
	})
	return win, nil
}

func (w *Window) Destroy() {
	w.handle.Destroy()
	glfw.Terminate()
}

func (w *Window) ShouldClose() bool { return w.handle.ShouldClose() }
func (w *Window) PollEvents()       { glfw.PollEvents() }

func (w *Window) FramebufferSize() (int, int) { return w.handle.GetFramebufferSize() }

// RequiredExtensions returns the instance extensions glfw needs to create a
// Vulkan surface on this platform.
func RequiredExtensions() []string {
	return glfw.GetRequiredInstanceExtensions()
}

// CreateSurface creates the vk.Surface this window presents to.
func (w *Window) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	surfacePtr, err := w.handle.CreateWindowSurface(instance, nil)
	if err != nil {
		return nil, fmt.Errorf("platform: create window surface: %w", err)
	}
	return vk.SurfaceFromPointer(surfacePtr), nil
}
