package embedding

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/hyperjump/casefind/internal/models"
)

// DefaultImageSize is the CLIP vision tower input resolution.
const DefaultImageSize = 224

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// PreprocessImage decodes data, resizes the shorter side to size with bicubic filtering,
// center-crops to size x size and returns CHW pixel values normalized with the CLIP
// mean and std. Undecodable input is models.ErrInvalidArgument.
func PreprocessImage(data []byte, size int) ([]float32, error) {
	if size <= 0 {
		size = DefaultImageSize
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", models.ErrInvalidArgument, err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrInvalidArgument)
	}

	nw, nh := size, size
	if w < h {
		nh = max(size, h*size/w)
	} else {
		nw = max(size, w*size/h)
	}
	scaled := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)

	x0, y0 := (nw-size)/2, (nh-size)/2
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := scaled.RGBAAt(x0+x, y0+y)
			i := y*size + x
			out[i] = (float32(c.R)/255 - clipMean[0]) / clipStd[0]
			out[plane+i] = (float32(c.G)/255 - clipMean[1]) / clipStd[1]
			out[2*plane+i] = (float32(c.B)/255 - clipMean[2]) / clipStd[2]
		}
	}
	return out, nil
}
