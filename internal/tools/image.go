package tools

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

// maxImagePixels rejects decompression bombs before decoding.
const maxImagePixels = 40_000_000

// Describer explains what an image shows.
type Describer interface {
	DescribeImage(ctx context.Context, imageURL string) (string, error)
}

// ImageGenerator creates an image and returns its URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

func requireImage(call Call) string {
	if len(call.ImageURLs) == 0 {
		return "requires image input"
	}
	return ""
}

// DescribeTool answers image.describe for the first image attachment.
type DescribeTool struct {
	describer Describer
}

// NewDescribeTool creates the tool; d may be nil.
func NewDescribeTool(d Describer) *DescribeTool { return &DescribeTool{describer: d} }

func (t *DescribeTool) Name() string             { return ImageDescribe }
func (t *DescribeTool) ConcurrencySafe() bool    { return true }
func (t *DescribeTool) Require(call Call) string { return requireImage(call) }

func (t *DescribeTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	if t.describer == nil {
		return Outcome{}, &NotConfiguredError{What: "vision provider"}
	}
	desc, err := t.describer.DescribeImage(ctx, call.ImageURLs[0])
	if err != nil {
		return Outcome{}, err
	}
	return Fact("图片理解结果: %s", desc), nil
}

// GenerateTool answers image.generate and attaches the generated image.
type GenerateTool struct {
	generator ImageGenerator
}

// NewGenerateTool creates the tool; g may be nil.
func NewGenerateTool(g ImageGenerator) *GenerateTool { return &GenerateTool{generator: g} }

func (t *GenerateTool) Name() string { return ImageGenerate }

func (t *GenerateTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	if t.generator == nil {
		return Outcome{}, &NotConfiguredError{What: "image generation provider"}
	}
	prompt := call.Arg("prompt", call.Text)
	ref, err := t.generator.GenerateImage(ctx, prompt)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Facts:       []string{"图片生成完成，提示词: " + prompt},
		SideEffects: []SideEffect{{Kind: SideEffectImage, Ref: ref}},
	}, nil
}

// ProcessTool answers image.process: grayscale, blur or resize of the first
// image attachment. The result is written to a temp file and attached.
type ProcessTool struct {
	http    *HTTPClient
	tempDir string
}

// NewProcessTool creates the tool.
func NewProcessTool(hc *HTTPClient, tempDir string) *ProcessTool {
	return &ProcessTool{http: hc, tempDir: tempDir}
}

func (t *ProcessTool) Name() string             { return ImageProcess }
func (t *ProcessTool) Require(call Call) string { return requireImage(call) }

func (t *ProcessTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	raw, _, err := t.http.Download(ctx, call.ImageURLs[0], 0)
	if err != nil {
		return Outcome{}, err
	}
	op := call.Arg("operation", "grayscale")
	value := call.Arg("value", "")
	out, ext, err := ProcessImage(raw, op, value)
	if err != nil {
		return Outcome{Diagnostics: []string{"图片处理失败: 输入图片无效。"}}, nil
	}
	path, err := writeTemp(t.tempDir, "mako-image-*"+ext, out)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Facts:       []string{strings.TrimSpace(fmt.Sprintf("图片处理完成，操作=%s 参数=%s", op, value))},
		SideEffects: []SideEffect{{Kind: SideEffectImage, Ref: path}},
	}, nil
}

// ProcessImage applies op to the encoded image and returns the re-encoded
// bytes with their file extension. Images with transparency are written as
// PNG, everything else as JPEG.
func ProcessImage(raw []byte, op, value string) ([]byte, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if cfg.Width*cfg.Height > maxImagePixels {
		return nil, "", fmt.Errorf("%w: image too large (%dx%d)", ErrInvalidInput, cfg.Width, cfg.Height)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	img := toNRGBA(src)
	alpha := !img.Opaque()

	switch strings.ToLower(op) {
	case "grayscale":
		grayscale(img)
	case "blur":
		img = boxBlur(img, 2)
	case "resize":
		if w, h := parseResize(value); w > 0 {
			img = resize(img, w, h)
		}
	}

	var buf bytes.Buffer
	if alpha {
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), ".png", nil
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), ".jpg", nil
}

func toNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func grayscale(img *image.NRGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			g := uint8((19595*uint32(c.R) + 38470*uint32(c.G) + 7471*uint32(c.B) + 1<<15) >> 16)
			img.SetNRGBA(x, y, color.NRGBA{R: g, G: g, B: g, A: c.A})
		}
	}
}

// boxBlur runs a separable box filter of the given radius.
func boxBlur(img *image.NRGBA, radius int) *image.NRGBA {
	horizontal := blurPass(img, radius, true)
	return blurPass(horizontal, radius, false)
}

func blurPass(src *image.NRGBA, radius int, horizontal bool) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var r, g, bl, a, n uint32
			for d := -radius; d <= radius; d++ {
				sx, sy := x, y
				if horizontal {
					sx += d
				} else {
					sy += d
				}
				if sx < b.Min.X || sx >= b.Max.X || sy < b.Min.Y || sy >= b.Max.Y {
					continue
				}
				c := src.NRGBAAt(sx, sy)
				r += uint32(c.R)
				g += uint32(c.G)
				bl += uint32(c.B)
				a += uint32(c.A)
				n++
			}
			dst.SetNRGBA(x, y, color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(bl / n), A: uint8(a / n)})
		}
	}
	return dst
}

// parseResize accepts "800", "800x600" or "800*600". h is 0 when only a
// width was given.
func parseResize(value string) (w, h int) {
	v := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "*", "x")
	if left, right, ok := strings.Cut(v, "x"); ok {
		w, errW := strconv.Atoi(left)
		h, errH := strconv.Atoi(right)
		if errW != nil || errH != nil || w <= 0 || h <= 0 {
			return 0, 0
		}
		return w, h
	}
	w, err := strconv.Atoi(v)
	if err != nil || w <= 0 {
		return 0, 0
	}
	return w, 0
}

// resize scales to width w. With a height bound the image is fitted inside
// w x h keeping its aspect ratio and never enlarged.
func resize(src *image.NRGBA, w, h int) *image.NRGBA {
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	var dw, dh int
	if h > 0 {
		scale := min(float64(w)/float64(sw), float64(h)/float64(sh), 1)
		dw, dh = max(1, int(float64(sw)*scale)), max(1, int(float64(sh)*scale))
	} else {
		dw = w
		dh = max(1, sh*w/max(1, sw))
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
