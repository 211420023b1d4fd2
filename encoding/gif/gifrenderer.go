package gif

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"math"

	"github.com/golang/freetype/truetype"
	"github.com/gorgonia/cpc"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
)

var regular *truetype.Font

const (
	dpi             = 144.0
	fontsize        = 12.0
	lineheight      = 1.2
	dummyLongString = `Epoch 1000/1000 [100000/100000 (100%)]`
	textLines       = 3
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

const (
	black uint8 = iota
	white
	lossColour
	accColour
	axisColour
)

var globPalette = color.Palette{
	color.Gray{0},
	color.Gray{253},
	color.RGBA{0xd6, 0x27, 0x28, 0xff},
	color.RGBA{0x1f, 0x77, 0xb4, 0xff},
	color.Gray{180},
}

// Encoder renders training curves, one frame per progress record, according to the cpc.ProgressEncoder interface.
//
// The loss curve is scaled to the largest loss seen so far; accuracy is plotted on [0, 1].
type Encoder struct {
	H, W int
	font.Drawer

	out *gif.GIF
	io.Writer
	face font.Face

	maxH, maxW  int // maxHeight and maxWidth
	padH, padW  int // padding so everything don't start at the topleft
	initialized bool

	losses, accs []float32
	maxLoss      float32
}

// NewGifEncoder with height and width
func NewGifEncoder(h, w int) *Encoder {
	return &Encoder{
		H:    -1,
		W:    -1,
		maxH: h,
		maxW: w,
		padH: 10,
		padW: 10,

		Drawer: font.Drawer{
			Src: image.Black,
		},
		out: &gif.GIF{LoopCount: -1},
	}
}

func (enc *Encoder) init() {
	enc.face = truetype.NewFace(regular, &truetype.Options{
		Size:    fontsize,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
	enc.Drawer.Src = image.Black
	enc.Drawer.Face = enc.face

	dy := lineHeight()
	w := font.MeasureString(enc.Face, dummyLongString).Ceil() + 2*enc.padW
	h := textLines*dy + 2*enc.padH + 4*dy // the plot is four lines high at least

	if enc.maxW > 0 {
		w = enc.maxW
	}
	if enc.maxH > 0 {
		h = enc.maxH
	}
	enc.W, enc.H = w, h
	enc.initialized = true
}

// Encode a progress record
func (enc *Encoder) Encode(p cpc.Progress) error {
	if !enc.initialized {
		enc.init()
	}
	enc.losses = append(enc.losses, p.Loss)
	enc.accs = append(enc.accs, p.Accuracy)
	if p.Loss > enc.maxLoss && !math.IsInf(float64(p.Loss), 0) {
		enc.maxLoss = p.Loss
	}

	im := image.NewPaletted(image.Rect(0, 0, enc.W, enc.H), globPalette)
	draw.Draw(im, im.Bounds(), image.White, image.Point{}, draw.Src)

	dy := lineHeight()
	y := enc.padH + dy
	enc.Dst = im
	for _, s := range []string{
		p.Name,
		fmt.Sprintf("Epoch %d/%d [%d/%d (%.0f%%)]", p.Epoch, p.Epochs, p.Seen, p.Samples, p.Percent()),
		fmt.Sprintf("Loss %.4f  Accuracy %.4f  lr %.5f", p.Loss, p.Accuracy, p.LearnRate),
	} {
		enc.Dot = fixed.P(enc.padW, y)
		enc.DrawString(s)
		y += dy
	}

	enc.plot(im, image.Rect(enc.padW, y, enc.W-enc.padW, enc.H-enc.padH))
	enc.out.Image = append(enc.out.Image, im)
	enc.out.Delay = append(enc.out.Delay, 0)
	return nil
}

// plot draws both curves into r.
func (enc *Encoder) plot(im *image.Paletted, r image.Rectangle) {
	if r.Dx() < 2 || r.Dy() < 2 {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		im.SetColorIndex(x, r.Max.Y-1, axisColour)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		im.SetColorIndex(r.Min.X, y, axisColour)
	}

	scale := enc.maxLoss
	if scale <= 0 {
		scale = 1
	}
	line(im, r, enc.losses, scale, lossColour)
	line(im, r, enc.accs, 1, accColour)
}

// line plots ys, scaled by 1/scale, across the width of r.
func line(im *image.Paletted, r image.Rectangle, ys []float32, scale float32, c uint8) {
	n := len(ys)
	px := func(i int) int {
		if n == 1 {
			return r.Min.X
		}
		return r.Min.X + i*(r.Dx()-1)/(n-1)
	}
	py := func(v float32) int {
		f := float64(v / scale)
		if math.IsNaN(f) {
			f = 0
		}
		f = math.Max(0, math.Min(1, f))
		return r.Max.Y - 1 - int(f*float64(r.Dy()-1))
	}
	prevX, prevY := px(0), py(ys[0])
	im.SetColorIndex(prevX, prevY, c)
	for i := 1; i < n; i++ {
		x, y := px(i), py(ys[i])
		segment(im, prevX, prevY, x, y, c)
		prevX, prevY = x, y
	}
}

func segment(im *image.Paletted, x0, y0, x1, y1 int, c uint8) {
	steps := maxInt(absInt(x1-x0), absInt(y1-y0))
	if steps == 0 {
		im.SetColorIndex(x0, y0, c)
		return
	}
	for s := 0; s <= steps; s++ {
		x := x0 + (x1-x0)*s/steps
		y := y0 + (y1-y0)*s/steps
		im.SetColorIndex(x, y, c)
	}
}

// Frames is the number of frames rendered so far.
func (enc *Encoder) Frames() int { return len(enc.out.Image) }

// Flush writes the gif into the writer
func (enc *Encoder) Flush() error { return gif.EncodeAll(enc.Writer, enc.out) }

func lineHeight() int { return int(math.Ceil(fontsize * lineheight * dpi / 72)) }
