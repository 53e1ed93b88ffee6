package sink

import (
	"fmt"
	"image/png"
	"io"

	"cardtrace/rgbimage"

	"github.com/nfnt/resize"
)

const PNGContentType = "image/png"

// WritePreview writes a PNG thumbnail of im, width pixels across, keeping the
// aspect ratio.
func WritePreview(im *rgbimage.Image, w io.Writer, width uint) error {
	if width == 0 {
		return fmt.Errorf("preview width must be positive")
	}

	thumb := resize.Resize(width, 0, im.ToImage(), resize.Bilinear)

	if err := png.Encode(w, thumb); err != nil {
		return fmt.Errorf("while encoding preview: %w", err)
	}
	return nil
}
