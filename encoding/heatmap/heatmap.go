// Package heatmap renders completed horizon cycles as frames of an animated GIF.
//
// Each frame is a grid with one column per epoch and one row per symbol. The
// darker a cell, the more probability was predicted for that symbol; the
// symbol that was actually observed is marked in red.
package heatmap

import (
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"
	"math"

	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"

	"github.com/gorgonia/onlinelstm"
)

var regular *truetype.Font

const (
	dpi             = 72.0
	fontsize        = 12.0
	lineheight      = 1.2
	dummyLongString = `Sweep 1000000`

	shades = 254
	black  = shades - 1
	marker = shades
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

var palette = func() color.Palette {
	p := make(color.Palette, shades+1)
	for i := 0; i < shades; i++ {
		p[i] = color.Gray{Y: uint8(255 - i*255/(shades-1))}
	}
	p[marker] = color.RGBA{R: 0xE0, A: 0xFF}
	return p
}()

// Encoder is an onlinelstm.OutputEncoder that accumulates frames and writes
// the GIF on Flush.
type Encoder struct {
	H, W int
	font.Drawer

	out *gif.GIF
	io.Writer
	face font.Face

	cell       int // side of a grid cell in pixels
	padH, padW int
	delay      int // per frame, in 100ths of a second
	rows       int // symbols shown, the first rows of the alphabet

	initialized bool
}

// NewEncoder returns an encoder writing to w, drawing each probability as a
// square of cell pixels. At most maxSymbols rows are drawn; 0 draws the whole alphabet.
func NewEncoder(w io.Writer, cell, maxSymbols int) *Encoder {
	if cell < 1 {
		cell = 1
	}
	return &Encoder{
		H:      -1,
		W:      -1,
		Writer: w,
		cell:   cell,
		padH:   4,
		padW:   4,
		delay:  20,
		rows:   maxSymbols,

		Drawer: font.Drawer{
			Src: image.Black,
		},
		out: &gif.GIF{LoopCount: 0},
	}
}

// Frames is the number of frames encoded so far.
func (enc *Encoder) Frames() int { return len(enc.out.Image) }

// Encode renders one cycle as a frame.
func (enc *Encoder) Encode(c onlinelstm.Cycle) error {
	if len(c.Outputs) == 0 || len(c.Outputs) != len(c.Targets) {
		return errors.Errorf("cycle %d has %d distributions and %d targets", c.Sweep, len(c.Outputs), len(c.Targets))
	}
	dy := int(math.Ceil(fontsize * lineheight * dpi / 72))
	if !enc.initialized {
		// lazy init, the frame size depends on the first cycle
		enc.face = truetype.NewFace(regular, &truetype.Options{
			Size:    fontsize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		})
		enc.Drawer.Face = enc.face
		if enc.rows <= 0 || enc.rows > len(c.Outputs[0]) {
			enc.rows = len(c.Outputs[0])
		}
		textW := font.MeasureString(enc.face, dummyLongString).Ceil()
		enc.W = maxInt(textW, len(c.Outputs)*enc.cell) + 2*enc.padW
		enc.H = dy + enc.rows*enc.cell + 2*enc.padH
		enc.initialized = true
	}

	im := image.NewPaletted(image.Rect(0, 0, enc.W, enc.H), palette)
	// index 0 is white
	top := enc.padH + dy
	for e, dist := range c.Outputs {
		x0 := enc.padW + e*enc.cell
		for s := 0; s < enc.rows && s < len(dist); s++ {
			enc.fill(im, x0, top+s*enc.cell, enc.cell, shade(dist[s]))
		}
		if t := c.Targets[e]; t >= 0 && t < enc.rows && enc.cell >= 3 {
			third := enc.cell / 3
			enc.fill(im, x0+third, top+t*enc.cell+third, enc.cell-2*third, marker)
		}
	}

	enc.Dst = im
	enc.Dot = fixed.P(enc.padW, enc.padH+dy*4/5)
	enc.DrawString(fmt.Sprintf("Sweep %d", c.Sweep))

	enc.out.Image = append(enc.out.Image, im)
	enc.out.Delay = append(enc.out.Delay, enc.delay)
	return nil
}

func (enc *Encoder) fill(im *image.Paletted, x, y, side int, idx uint8) {
	for j := y; j < y+side; j++ {
		for i := x; i < x+side; i++ {
			im.SetColorIndex(i, j, idx)
		}
	}
}

// shade maps a probability to a palette index, 0 (white) to black.
func shade(p float32) uint8 {
	switch {
	case math.IsNaN(float64(p)) || p <= 0:
		return 0
	case p >= 1:
		return black
	}
	return uint8(float64(p)*float64(black) + 0.5)
}

// Flush writes the gif into the writer
func (enc *Encoder) Flush() error {
	if len(enc.out.Image) == 0 {
		return errors.New("no frames to encode")
	}
	return errors.WithStack(gif.EncodeAll(enc.Writer, enc.out))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
