// Package gputex implements texture creation: image, view, and sampler
// object assembly, staged pixel upload, and mip-chain generation by
// successive blits, layered on top of the image layout tracker.
package gputex

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/NOT-REAL-GAMES/skr/internal/cmdring"
	"github.com/NOT-REAL-GAMES/skr/internal/imagelayout"
)

// Format is the pixel format a texture is created with.
type Format int

const (
	FormatRGBA8Unorm Format = iota
	FormatRGBA8Srgb
	FormatBGRA8Unorm
	FormatRGBA16Float
	FormatRGBA32Float
	FormatR8Unorm
	FormatD32Float
	FormatD24UnormS8Uint
)

func (f Format) vk() vk.Format {
	switch f {
	case FormatRGBA8Srgb:
		return vk.FormatR8g8b8a8Srgb
	case FormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case FormatRGBA16Float:
		return vk.FormatR16g16b16a16Sfloat
	case FormatRGBA32Float:
		return vk.FormatR32g32b32a32Sfloat
	case FormatR8Unorm:
		return vk.FormatR8Unorm
	case FormatD32Float:
		return vk.FormatD32Sfloat
	case FormatD24UnormS8Uint:
		return vk.FormatD24UnormS8Uint
	default:
		return vk.FormatR8g8b8a8Unorm
	}
}

func (f Format) aspect() vk.ImageAspectFlagBits {
	switch f {
	case FormatD32Float:
		return vk.ImageAspectDepthBit
	case FormatD24UnormS8Uint:
		return vk.ImageAspectDepthBit | vk.ImageAspectStencilBit
	default:
		return vk.ImageAspectColorBit
	}
}

func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatRGBA16Float:
		return 8
	case FormatRGBA32Float:
		return 16
	case FormatR8Unorm:
		return 1
	default:
		return 4
	}
}

// Filter and WrapMode mirror the sampler knobs a material or compute program
// needs when it builds a texture's default sampler.
type Filter int

const (
	FilterLinear Filter = iota
	FilterNearest
)

type WrapMode int

const (
	WrapRepeat WrapMode = iota
	WrapClampToEdge
	WrapMirroredRepeat
)

func (w WrapMode) vk() vk.SamplerAddressMode {
	switch w {
	case WrapClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case WrapMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	default:
		return vk.SamplerAddressModeRepeat
	}
}

// SamplerDesc configures a texture's default sampler.
type SamplerDesc struct {
	MinFilter, MagFilter Filter
	WrapU, WrapV, WrapW  WrapMode
	MaxAnisotropy        float32
}

// Desc describes a texture to create.
type Desc struct {
	Width, Height uint32
	ArrayLayers   uint32 // 1 for 2D, 6 for cube
	MipLevels     uint32 // 0 selects the full chain down to 1x1
	Format        Format
	Cube          bool
	Storage       bool // adds STORAGE usage so a compute program can write it
	RenderTarget  bool // adds the attachment usage matching Format's aspect
	Sampler       SamplerDesc
}

func mipCount(w, h uint32) uint32 {
	levels := uint32(1)
	for w > 1 || h > 1 {
		if w > 1 {
			w >>= 1
		}
		if h > 1 {
			h >>= 1
		}
		levels++
	}
	return levels
}

// Device is the seam into the Vulkan device this package needs: image, view,
// and sampler creation/destruction, and staged upload of initial pixel data.
type Device interface {
	CreateImage(width, height, mipLevels, arrayLayers uint32, format vk.Format, usage vk.ImageUsageFlags, cube bool) (vk.Image, vk.DeviceMemory, error)
	DestroyImage(img vk.Image, mem vk.DeviceMemory)
	CreateImageView(img vk.Image, format vk.Format, aspect vk.ImageAspectFlagBits, viewType vk.ImageViewType, mipLevels, arrayLayers uint32) (vk.ImageView, error)
	DestroyImageView(v vk.ImageView)
	CreateSampler(minFilter, magFilter vk.Filter, wrapU, wrapV, wrapW vk.SamplerAddressMode, maxAnisotropy float32, mipLevels uint32) (vk.Sampler, error)
	DestroySampler(s vk.Sampler)
	// StageUploadImage copies data into every array layer of dst's mip level
	// 0 via a staging buffer, transitioning UNDEFINED -> TRANSFER_DST ->
	// SHADER_READ_ONLY internally, enqueued onto the active command slot.
	StageUploadImage(dst vk.Image, width, height, arrayLayers uint32, aspect vk.ImageAspectFlagBits, data []byte) error
}

// Texture is one GPU texture: its image, default view, default sampler, and
// the layout-tracked handle the frame renderer and compute program
// transition automatically.
type Texture struct {
	dev Device

	Image     vk.Image
	Memory    vk.DeviceMemory
	View      vk.ImageView
	Sampler   vk.Sampler
	Width     uint32
	Height    uint32
	MipLevels uint32
	Layers    uint32
	Format    Format
	Cube      bool

	Tracked *imagelayout.Texture
}

func imageUsage(desc Desc) vk.ImageUsageFlags {
	usage := vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit | vk.ImageUsageTransferSrcBit)
	if desc.Storage {
		usage |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	if desc.RenderTarget {
		if desc.Format.aspect()&vk.ImageAspectDepthBit != 0 {
			usage |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
		} else {
			usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
		}
	}
	return usage
}

// Create builds the image, its default full-mip-range view, and a sampler
// from desc.Sampler, optionally uploading data to mip level 0. It does not
// fill the remaining mip levels; GenerateMips does that.
func Create(dev Device, desc Desc, data []byte) (*Texture, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("gputex: width and height must be non-zero")
	}
	layers := desc.ArrayLayers
	if layers == 0 {
		layers = 1
	}
	if desc.Cube {
		layers = 6
	}
	mips := desc.MipLevels
	if mips == 0 {
		mips = mipCount(desc.Width, desc.Height)
	}

	vkFormat := desc.Format.vk()
	aspect := desc.Format.aspect()

	img, mem, err := dev.CreateImage(desc.Width, desc.Height, mips, layers, vkFormat, imageUsage(desc), desc.Cube)
	if err != nil {
		return nil, fmt.Errorf("gputex: create image: %w", err)
	}

	viewType := vk.ImageViewType2d
	if desc.Cube {
		viewType = vk.ImageViewTypeCube
	}
	view, err := dev.CreateImageView(img, vkFormat, aspect, viewType, mips, layers)
	if err != nil {
		dev.DestroyImage(img, mem)
		return nil, fmt.Errorf("gputex: create image view: %w", err)
	}

	sd := desc.Sampler
	minF := vk.FilterLinear
	if sd.MinFilter == FilterNearest {
		minF = vk.FilterNearest
	}
	magF := vk.FilterLinear
	if sd.MagFilter == FilterNearest {
		magF = vk.FilterNearest
	}
	sampler, err := dev.CreateSampler(minF, magF, sd.WrapU.vk(), sd.WrapV.vk(), sd.WrapW.vk(), sd.MaxAnisotropy, mips)
	if err != nil {
		dev.DestroyImageView(view)
		dev.DestroyImage(img, mem)
		return nil, fmt.Errorf("gputex: create sampler: %w", err)
	}

	t := &Texture{
		dev: dev, Image: img, Memory: mem, View: view, Sampler: sampler,
		Width: desc.Width, Height: desc.Height, MipLevels: mips, Layers: layers,
		Format: desc.Format, Cube: desc.Cube,
		Tracked: imagelayout.NewTexture(img, aspect, desc.Storage, false),
	}

	if data != nil {
		if err := dev.StageUploadImage(img, desc.Width, desc.Height, layers, aspect, data); err != nil {
			t.Destroy()
			return nil, fmt.Errorf("gputex: stage upload: %w", err)
		}
		t.Tracked.NotifyLayout(imagelayout.ShaderReadOnly)
	}

	return t, nil
}

// GenerateMips records a chain of blits from each mip level to the next,
// halving width and height each step, transitioning each source level to
// TRANSFER_SRC as it is consumed and the final level to SHADER_READ_ONLY
// once the chain completes. The caller must have uploaded mip 0 first.
func (t *Texture) GenerateMips(ring *cmdring.Ring) error {
	if t.MipLevels <= 1 {
		return nil
	}

	slot, idx, err := ring.Acquire()
	if err != nil {
		return fmt.Errorf("gputex: generate mips: acquire command buffer: %w", err)
	}

	aspect := vk.ImageAspectFlags(t.Format.aspect())
	mipWidth, mipHeight := int32(t.Width), int32(t.Height)

	for level := uint32(1); level < t.MipLevels; level++ {
		srcBarrier := vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			OldLayout:           vk.ImageLayoutTransferDstOptimal,
			NewLayout:           vk.ImageLayoutTransferSrcOptimal,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               t.Image,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: aspect, BaseMipLevel: level - 1, LevelCount: 1,
				BaseArrayLayer: 0, LayerCount: t.Layers,
			},
			SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessTransferReadBit),
		}
		if level == 1 {
			srcBarrier.OldLayout = vk.ImageLayoutShaderReadOnlyOptimal
			srcBarrier.SrcAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		}
		vk.CmdPipelineBarrier(slot.Handle, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit), 0,
			0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{srcBarrier})

		nextWidth, nextHeight := mipWidth, mipHeight
		if nextWidth > 1 {
			nextWidth /= 2
		}
		if nextHeight > 1 {
			nextHeight /= 2
		}

		blit := vk.ImageBlit{
			SrcSubresource: vk.ImageSubresourceLayers{AspectMask: aspect, MipLevel: level - 1, BaseArrayLayer: 0, LayerCount: t.Layers},
			DstSubresource: vk.ImageSubresourceLayers{AspectMask: aspect, MipLevel: level, BaseArrayLayer: 0, LayerCount: t.Layers},
		}
		blit.SrcOffsets[1] = vk.Offset3D{X: mipWidth, Y: mipHeight, Z: 1}
		blit.DstOffsets[1] = vk.Offset3D{X: nextWidth, Y: nextHeight, Z: 1}

		vk.CmdBlitImage(slot.Handle, t.Image, vk.ImageLayoutTransferSrcOptimal, t.Image, vk.ImageLayoutTransferDstOptimal,
			1, []vk.ImageBlit{blit}, vk.FilterLinear)

		toReadBarrier := srcBarrier
		toReadBarrier.OldLayout = vk.ImageLayoutTransferSrcOptimal
		toReadBarrier.NewLayout = vk.ImageLayoutShaderReadOnlyOptimal
		toReadBarrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferReadBit)
		toReadBarrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		vk.CmdPipelineBarrier(slot.Handle, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), 0,
			0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{toReadBarrier})

		mipWidth, mipHeight = nextWidth, nextHeight
	}

	finalBarrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           vk.ImageLayoutTransferDstOptimal,
		NewLayout:           vk.ImageLayoutShaderReadOnlyOptimal,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               t.Image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect, BaseMipLevel: t.MipLevels - 1, LevelCount: 1,
			BaseArrayLayer: 0, LayerCount: t.Layers,
		},
		SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
	}
	vk.CmdPipelineBarrier(slot.Handle, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{finalBarrier})

	t.Tracked.NotifyLayout(imagelayout.ShaderReadOnly)

	if err := ring.Release(idx); err != nil {
		return fmt.Errorf("gputex: generate mips: release command buffer: %w", err)
	}
	return nil
}

func (t *Texture) Destroy() {
	if t.Sampler != nil {
		t.dev.DestroySampler(t.Sampler)
		t.Sampler = nil
	}
	if t.View != nil {
		t.dev.DestroyImageView(t.View)
		t.View = nil
	}
	if t.Image != nil {
		t.dev.DestroyImage(t.Image, t.Memory)
		t.Image = nil
	}
}
