package mjpeg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log"
	"math"
	"net/http"

	"github.com/golang/freetype/truetype"
	"github.com/gorgonia/cpc"
	"github.com/mattn/go-mjpeg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
)

var regular *truetype.Font

const (
	dpi             = 144.0
	fontsize        = 12.0
	lineheight      = 1.2
	dummyLongString = `Train Epoch: 1000/1000 [100000/100000 (100%)]`
	textLines       = 5
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

var globPalette = color.Palette{
	color.Gray{0},
	color.Gray{253},
}

// Encoder streams the latest progress record as a motion jpeg, according to the cpc.ProgressEncoder interface.
// Point a browser at it to watch a run.
type Encoder struct {
	H, W int
	font.Drawer

	stream *mjpeg.Stream
	face   font.Face
	last   []byte

	maxH, maxW  int // maxHeight and maxWidth
	padH, padW  int // padding so everything don't start at the topleft
	initialized bool

	bestLoss float32
}

func (e *Encoder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.stream.ServeHTTP(w, r)
}

// NewEncoder with height and width. Non-positive sizes are measured from the text.
func NewEncoder(h, w int) *Encoder {
	return &Encoder{
		H:    -1,
		W:    -1,
		maxH: h,
		maxW: w,
		padH: 10,
		padW: 10,

		stream: mjpeg.NewStream(),
		Drawer: font.Drawer{
			Src: image.Black,
		},
		bestLoss: float32(math.Inf(1)),
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

	w := font.MeasureString(enc.Face, dummyLongString).Ceil() + 2*enc.padW
	h := (textLines+1)*lineHeight() + 2*enc.padH
	if enc.maxW > 0 && w > enc.maxW {
		w, enc.padW = enc.maxW, 0
	}
	if enc.maxH > 0 && h > enc.maxH {
		h, enc.padH = enc.maxH, 0
	}
	enc.W, enc.H = w, h
	enc.initialized = true
}

// Encode a progress record
func (enc *Encoder) Encode(p cpc.Progress) error {
	if !enc.initialized {
		enc.init()
	}
	if p.Loss < enc.bestLoss {
		enc.bestLoss = p.Loss
	}

	im := image.NewPaletted(image.Rect(0, 0, enc.W, enc.H), globPalette)
	draw.Draw(im, im.Bounds(), image.White, image.Point{}, draw.Src)
	enc.Dst = im

	dy := lineHeight()
	y := enc.padH + dy
	for _, s := range []string{
		p.Name,
		fmt.Sprintf("Train Epoch: %d/%d [%d/%d (%.0f%%)]", p.Epoch, p.Epochs, p.Seen, p.Samples, p.Percent()),
		fmt.Sprintf("cpc %.6f knn %.6f", p.NCE, p.KNN),
		fmt.Sprintf("Loss %.6f (best %.6f)", p.Loss, enc.bestLoss),
		fmt.Sprintf("Accuracy %.4f lr %.5f", p.Accuracy, p.LearnRate),
	} {
		enc.Dot = fixed.P(enc.padW, y)
		enc.DrawString(s)
		y += dy
	}

	var b bytes.Buffer
	if err := jpeg.Encode(&b, im, nil); err != nil {
		log.Println(err)
		return err
	}
	enc.last = b.Bytes()
	if err := enc.stream.Update(enc.last); err != nil {
		log.Println(err)
		return err
	}
	return nil
}

// Last is the most recent frame, jpeg encoded.
func (enc *Encoder) Last() []byte { return enc.last }

func (enc *Encoder) Flush() error { return nil }

func lineHeight() int { return int(math.Ceil(fontsize * lineheight * dpi / 72)) }
