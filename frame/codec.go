package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/disintegration/gift"
	"github.com/snksoft/crc"
)

const (
	// CRCCard is the FITS header keyword holding the CRC32 of the pixel data
	CRCCard = "DATACRC"

	bitpixFloat64 = -64
)

var (
	// ErrChecksum is returned when pixel data does not match its DATACRC card
	ErrChecksum = errors.New("pixel data does not match its checksum")

	// ErrFormat is returned for files which are not a supported image
	ErrFormat = errors.New("unsupported image format")

	crcTable = crc.NewTable(crc.CRC32)
)

// Checksum returns the CRC32 of the big endian IEEE 754 encoding of the pixels
func (f *Frame) Checksum() uint32 {
	buf := make([]byte, 8)
	c := crcTable.InitCrc()
	for _, v := range f.Pix {
		binary.BigEndian.PutUint64(buf, math.Float64bits(v))
		c = crcTable.UpdateCrc(c, buf)
	}
	return uint32(crcTable.CRC(c))
}

// WriteFITS writes f to w as a 64-bit float FITS image.  A DATACRC card is
// added after any extra cards given
func WriteFITS(w io.Writer, f *Frame, cards ...fitsio.Card) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(bitpixFloat64, []int{f.W, f.H})
	defer im.Close()
	cards = append(cards, fitsio.Card{Name: CRCCard, Value: fmt.Sprintf("%08x", f.Checksum()), Comment: "CRC32 of pixel data"})
	err = im.Header().Append(cards...)
	if err != nil {
		return err
	}
	err = im.Write(f.Pix)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// ReadFITS reads the primary image of a FITS file.  Integer data is offset
// by BZERO and normalised to [0, 1]; float data is returned as stored.  If the
// header carries a DATACRC card, the pixels are verified against it
func ReadFITS(r io.Reader) (*Frame, error) {
	fits, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer fits.Close()
	img, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%w: primary HDU is not an image", ErrFormat)
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, fmt.Errorf("%w: %d axes, want 2", ErrFormat, len(axes))
	}
	f := New(axes[0], axes[1])
	n := f.W * f.H
	bzero := cardFloat(hdr.Get("BZERO"))
	switch hdr.Bitpix() {
	case 8:
		raw := make([]uint8, n)
		if err = img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			f.Pix[i] = (float64(v) + bzero) / math.MaxUint8
		}
	case 16:
		raw := make([]int16, n)
		if err = img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			f.Pix[i] = (float64(v) + bzero) / math.MaxUint16
		}
	case -32:
		raw := make([]float32, n)
		if err = img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			f.Pix[i] = float64(v) + bzero
		}
	case bitpixFloat64:
		raw := make([]float64, n)
		if err = img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			f.Pix[i] = v + bzero
		}
	default:
		return nil, fmt.Errorf("%w: BITPIX %d", ErrFormat, hdr.Bitpix())
	}
	if card := hdr.Get(CRCCard); card != nil {
		want := strings.TrimSpace(fmt.Sprint(card.Value))
		if got := fmt.Sprintf("%08x", f.Checksum()); got != want {
			return nil, fmt.Errorf("%w: header %s, data %s", ErrChecksum, want, got)
		}
	}
	return f, nil
}

func cardFloat(c *fitsio.Card) float64 {
	if c == nil {
		return 0
	}
	switch v := c.Value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case float32:
		return float64(v)
	default:
		return 0
	}
}

// WritePNG writes f to w as a 16-bit grayscale PNG, clipping to [0, 1]
func WritePNG(w io.Writer, f *Frame) error {
	return png.Encode(w, f.Gray16())
}

// ReadPNG reads a PNG, normalising 16-bit data by 65535 and 8-bit by 255
func ReadPNG(r io.Reader) (*Frame, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

// Save writes f to path, choosing the format from the extension
func Save(path string, f *Frame, cards ...fitsio.Card) error {
	fid, err := os.Create(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		err = WriteFITS(fid, f, cards...)
	case ".png":
		err = WritePNG(fid, f)
	default:
		err = fmt.Errorf("%w: %s", ErrFormat, path)
	}
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	return err
}

// Load reads the frame at path, choosing the format from the extension
func Load(path string) (*Frame, error) {
	fid, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fid.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		return ReadFITS(fid)
	case ".png":
		return ReadPNG(fid)
	default:
		return nil, fmt.Errorf("%w: %s", ErrFormat, path)
	}
}

// Preview returns an 8-bit thumbnail of f, scaled to its own maximum and
// resized so that its longer side is at most maxDim pixels
func Preview(f *Frame, maxDim int) *image.Gray {
	n := f.Normalized()
	src := image.NewGray(image.Rect(0, 0, n.W, n.H))
	for i, v := range n.Pix {
		src.Pix[i] = uint8(quantize(v, math.MaxUint8))
	}
	g := gift.New(gift.ResizeToFit(maxDim, maxDim, gift.LinearResampling))
	dst := image.NewGray(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return dst
}

// WritePreview writes Preview(f, maxDim) to w as a PNG
func WritePreview(w io.Writer, f *Frame, maxDim int) error {
	return png.Encode(w, Preview(f, maxDim))
}
