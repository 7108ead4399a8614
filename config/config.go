// Package config defines the Settings struct passed to skr.Init and an
// optional TOML loader for it, following the same decode-then-transform
// shape the teacher engine uses for its shader-config files.
package config

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/pelletier/go-toml/v2"
)

// GPUPreference describes a required or preferred physical-device class:
// discrete, integrated, or video-decode-capable.
type GPUPreference int

const (
	GPUPreferNone GPUPreference = iota
	GPUPreferDiscrete
	GPUPreferIntegrated
	GPUPreferVideoDecode
)

func gpuPreferenceFromString(s string) (GPUPreference, error) {
	switch s {
	case "", "none":
		return GPUPreferNone, nil
	case "discrete":
		return GPUPreferDiscrete, nil
	case "integrated":
		return GPUPreferIntegrated, nil
	case "video-decode", "video_decode":
		return GPUPreferVideoDecode, nil
	default:
		return GPUPreferNone, fmt.Errorf("unknown gpu preference %q", s)
	}
}

// BindSlots is the wire-level contract with the shader compiler:
// reserved global slot indices for the material, per-draw system, and
// per-draw instance buffers.
type BindSlots struct {
	Material int `toml:"material_slot"`
	System   int `toml:"system_slot"`
	Instance int `toml:"instance_slot"`
}

// DefaultBindSlots is the conventional slot assignment most shaders use.
var DefaultBindSlots = BindSlots{Material: 0, System: 1, Instance: 2}

// DeviceInitFunc is invoked after instance creation and before device
// creation, returning the required device extensions.
type DeviceInitFunc func() ([]string, error)

// AllocatorHooks lets a caller override the host allocator used for
// CPU-side scratch.
type AllocatorHooks struct {
	Alloc   func(size uintptr) unsafe.Pointer
	Realloc func(ptr unsafe.Pointer, size uintptr) unsafe.Pointer
	Free    func(ptr unsafe.Pointer)
}

// Settings is the configuration struct accepted by skr.Init.
type Settings struct {
	AppName                  string
	AppVersion               [3]uint32
	EnableValidation         bool
	RequiredInstanceExts     []string
	RequireGPU               GPUPreference
	PreferGPU                GPUPreference
	ExplicitPhysicalDevice   uintptr
	DeviceInit               DeviceInitFunc
	Allocator                *AllocatorHooks
	BindSlots                BindSlots
	FramesInFlight           uint32
	MaxThreads               uint32
}

// DefaultSettings returns the zero-value-safe baseline: no validation, three
// frames in flight, eight recording threads, the default bind slots.
func DefaultSettings(appName string) Settings {
	return Settings{
		AppName:        appName,
		AppVersion:     [3]uint32{1, 0, 0},
		BindSlots:      DefaultBindSlots,
		FramesInFlight: 3,
		MaxThreads:     8,
	}
}

// tomlSettings is the on-disk shape; it is deliberately smaller than
// Settings since callback/pointer fields cannot round-trip through TOML.
type tomlSettings struct {
	AppName              string    `toml:"app_name"`
	AppVersionMajor      uint32    `toml:"app_version_major"`
	AppVersionMinor      uint32    `toml:"app_version_minor"`
	AppVersionPatch      uint32    `toml:"app_version_patch"`
	EnableValidation     bool      `toml:"enable_validation"`
	RequiredInstanceExts []string  `toml:"required_instance_extensions"`
	RequireGPU           string    `toml:"require_gpu"`
	PreferGPU            string    `toml:"prefer_gpu"`
	FramesInFlight       uint32    `toml:"frames_in_flight"`
	MaxThreads           uint32    `toml:"max_threads"`
	BindSlots            BindSlots `toml:"bind_slots"`
}

// Load decodes a TOML settings file into a Settings, seeded from
// DefaultSettings with the file's app name; the app version is always taken
// from the file. Unknown GPU-preference strings are reported as
// invalid rather than silently ignored.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var raw tomlSettings
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	s := DefaultSettings(raw.AppName)
	s.AppVersion = [3]uint32{raw.AppVersionMajor, raw.AppVersionMinor, raw.AppVersionPatch}
	s.EnableValidation = raw.EnableValidation
	s.RequiredInstanceExts = raw.RequiredInstanceExts
	if raw.FramesInFlight > 0 {
		s.FramesInFlight = raw.FramesInFlight
	}
	if raw.MaxThreads > 0 {
		s.MaxThreads = raw.MaxThreads
	}
	if raw.BindSlots != (BindSlots{}) {
		s.BindSlots = raw.BindSlots
	}

	req, err := gpuPreferenceFromString(raw.RequireGPU)
	if err != nil {
		return Settings{}, fmt.Errorf("config: %s: require_gpu: %w", path, err)
	}
	pref, err := gpuPreferenceFromString(raw.PreferGPU)
	if err != nil {
		return Settings{}, fmt.Errorf("config: %s: prefer_gpu: %w", path, err)
	}
	s.RequireGPU = req
	s.PreferGPU = pref

	return s, nil
}
