package rgbimage

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strconv"

	"cardtrace/vmath/vec3"
)

const maxChannel = 255

type Image struct {
	RowSize, ColSize int

	// Pix holds RGB triples, row by row, row 0 first.
	Pix []byte
}

func New(rowSize, colSize int) *Image {
	im := &Image{}
	im.Resize(rowSize, colSize)
	return im
}

func (im *Image) Resize(rowSize, colSize int) {
	im.RowSize = rowSize
	im.ColSize = colSize
	im.Pix = make([]byte, rowSize*colSize*3)
}

// Channel finalizes one accumulated color component into a byte.  Values are
// clamped to [0, 255] and truncated; NaN becomes 0.
func Channel(v float64) byte {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= maxChannel {
		return maxChannel
	}
	return byte(v)
}

func (im *Image) Set(r, c int, rgb vec3.T) {
	idx := (r*im.ColSize + c) * 3
	im.Pix[idx+0] = Channel(rgb[0])
	im.Pix[idx+1] = Channel(rgb[1])
	im.Pix[idx+2] = Channel(rgb[2])
}

func (im *Image) At(r, c int) [3]byte {
	idx := (r*im.ColSize + c) * 3
	return [3]byte{im.Pix[idx+0], im.Pix[idx+1], im.Pix[idx+2]}
}

// Row returns the bytes of row r.  The slice aliases the image.
func (im *Image) Row(r int) []byte {
	return im.Pix[r*im.ColSize*3 : (r+1)*im.ColSize*3]
}

func (im *Image) Paste(src *Image, rowSrc, colSrc int) {
	for r := 0; r < src.RowSize; r++ {
		dstIndex := ((r+rowSrc)*im.ColSize + colSrc) * 3
		copy(im.Pix[dstIndex:dstIndex+src.ColSize*3], src.Row(r))
	}
}

// MeanLuminance averages the Rec. 601 luma of every pixel.
func (im *Image) MeanLuminance() float64 {
	if len(im.Pix) == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(im.Pix); i += 3 {
		sum += 0.299*float64(im.Pix[i]) + 0.587*float64(im.Pix[i+1]) + 0.114*float64(im.Pix[i+2])
	}
	return sum / float64(im.RowSize*im.ColSize)
}

func (im *Image) ToImage() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, im.ColSize, im.RowSize))
	for r := 0; r < im.RowSize; r++ {
		for c := 0; c < im.ColSize; c++ {
			px := im.At(r, c)
			out.SetNRGBA(c, r, color.NRGBA{R: px[0], G: px[1], B: px[2], A: 0xff})
		}
	}
	return out
}

func WritePPM(im *Image, w io.Writer) error {
	header := fmt.Sprintf("P6 %d %d %d ", im.ColSize, im.RowSize, maxChannel)
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("while writing header: %w", err)
	}

	n, err := w.Write(im.Pix)
	if err != nil {
		return fmt.Errorf("while writing pixels: %w", err)
	}
	if n != len(im.Pix) {
		return fmt.Errorf("while writing pixels: %w", io.ErrShortWrite)
	}

	return nil
}

func ReadPPM(in io.Reader) (*Image, error) {
	br := bufio.NewReader(in)

	var fields [4]string
	for i := range fields {
		tok, err := readToken(br)
		if err != nil {
			return nil, fmt.Errorf("while reading header field %d: %w", i, err)
		}
		fields[i] = tok
	}

	if fields[0] != "P6" {
		return nil, fmt.Errorf("bad magic: %q", fields[0])
	}

	cols, err := strconv.Atoi(fields[1])
	if err != nil || cols <= 0 {
		return nil, fmt.Errorf("bad width: %q", fields[1])
	}

	rows, err := strconv.Atoi(fields[2])
	if err != nil || rows <= 0 {
		return nil, fmt.Errorf("bad height: %q", fields[2])
	}

	if fields[3] != strconv.Itoa(maxChannel) {
		return nil, fmt.Errorf("unsupported max channel value: %q", fields[3])
	}

	im := New(rows, cols)
	if _, err := io.ReadFull(br, im.Pix); err != nil {
		return nil, fmt.Errorf("while reading pixels: %w", err)
	}

	return im, nil
}

// readToken reads one whitespace-delimited header token and consumes exactly
// one trailing whitespace byte.  Comments are not supported.
func readToken(br *bufio.Reader) (string, error) {
	tok := []byte{}
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}

		if isSpace(b) {
			if len(tok) == 0 {
				continue
			}
			return string(tok), nil
		}
		tok = append(tok, b)
	}
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
