package verify

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/danmuck/edgeexport/internal/capture"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageNet channel statistics applied after scaling pixels to [0, 1].
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// LoadImage decodes the image at path and converts it into an input tensor for cal,
// which must describe a single RGB image in (1, 3, H, W) layout.
func LoadImage(path string, cal capture.Calibration) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("verify: decode %s: %w", path, err)
	}
	t, err := ImageTensor(img, cal)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	log.Debug().
		Str("path", path).
		Str("format", format).
		Int("src_width", b.Dx()).
		Int("src_height", b.Dy()).
		Str("shape", t.Shape.String()).
		Msg("verify.LoadImage")
	return t, nil
}

// ImageTensor resizes img bilinearly to the calibration height and width and
// normalizes it channel-first.
func ImageTensor(img image.Image, cal capture.Calibration) (*tensor.Tensor, error) {
	s := cal.Shape
	if s.Rank() != 4 || s[0] != 1 || s[1] != 3 || cal.DType != tensor.Float32 {
		return nil, fmt.Errorf("verify: calibration %s is not a single float32 RGB image", cal)
	}
	h, w := s[2], s[3]
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := tensor.New(tensor.Float32, s)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float32(dst.Pix[i+c]) / 255
				out.Data[c*plane+y*w+x] = (v - Mean[c]) / Std[c]
			}
		}
	}
	return out, nil
}
