package frame_test

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ptycholab/ptycholab/frame"
)

func ramp(w, h int) *frame.Frame {
	f := frame.New(w, h)
	for i := range f.Pix {
		f.Pix[i] = float64(i) / float64(len(f.Pix))
	}
	return f
}

func ExampleAverage() {
	a := &frame.Frame{W: 2, H: 1, Pix: []float64{0, 1}}
	b := &frame.Frame{W: 2, H: 1, Pix: []float64{1, 1}}
	avg, _ := frame.Average([]*frame.Frame{a, b})
	fmt.Println(avg.Pix)
	// Output: [0.5 1]
}

func ExampleFrame_Mean() {
	f := &frame.Frame{W: 2, H: 2, Pix: []float64{1, 2, 3, 6}}
	lo, hi := f.MinMax()
	fmt.Println(f.Sum(), f.Mean(), lo, hi)
	// Output: 12 3 1 6
}

func TestAverageShapeMismatch(t *testing.T) {
	_, err := frame.Average([]*frame.Frame{frame.New(2, 2), frame.New(3, 2)})
	if !errors.Is(err, frame.ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
}

func TestFromU16(t *testing.T) {
	f, err := frame.FromU16(2, 1, []uint16{0, 65535})
	if err != nil {
		t.Fatal(err)
	}
	if f.Pix[0] != 0 || f.Pix[1] != 1 {
		t.Errorf("expected normalised [0 1], got %v", f.Pix)
	}
	if _, err := frame.FromU16(3, 3, []uint16{1}); !errors.Is(err, frame.ErrShape) {
		t.Errorf("expected ErrShape for a short buffer, got %v", err)
	}
}

func TestFITSRoundTrip(t *testing.T) {
	f := ramp(7, 5)
	buf := &bytes.Buffer{}
	if err := frame.WriteFITS(buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := frame.ReadFITS(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f, got); diff != "" {
		t.Errorf("FITS round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFITSChecksumMismatch(t *testing.T) {
	f := ramp(4, 4)
	buf := &bytes.Buffer{}
	if err := frame.WriteFITS(buf, f); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	// the header fits in one 2880 byte block; corrupt the first pixel
	raw[2880+1] ^= 0xff
	_, err := frame.ReadFITS(bytes.NewReader(raw))
	if !errors.Is(err, frame.ErrChecksum) {
		t.Errorf("expected ErrChecksum, got %v", err)
	}
}

func TestPNGRoundTrip(t *testing.T) {
	f, _ := frame.FromU16(3, 2, []uint16{0, 1, 1000, 30000, 65534, 65535})
	buf := &bytes.Buffer{}
	if err := frame.WritePNG(buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := frame.ReadPNG(buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f, got); diff != "" {
		t.Errorf("PNG round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadPNG8Bit(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.SetGray(1, 0, color.Gray{Y: 255})
	buf := &bytes.Buffer{}
	png.Encode(buf, img)
	f, err := frame.ReadPNG(buf)
	if err != nil {
		t.Fatal(err)
	}
	if f.Pix[0] != 0 || f.Pix[1] != 1 {
		t.Errorf("expected 8-bit data normalised by 255, got %v", f.Pix)
	}
}

func TestWritePNGClips(t *testing.T) {
	f := &frame.Frame{W: 2, H: 1, Pix: []float64{-3, 7}}
	img := f.Gray16()
	if img.Gray16At(0, 0).Y != 0 || img.Gray16At(1, 0).Y != 65535 {
		t.Errorf("expected clipping to [0, 65535], got %v", img.Pix)
	}
}

func TestSaveLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	f := ramp(3, 3)
	for _, name := range []string{"a.fits", "b.png"} {
		path := filepath.Join(dir, name)
		if err := frame.Save(path, f); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		got, err := frame.Load(path)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !got.SameShape(f) {
			t.Errorf("%s: expected %dx%d, got %dx%d", name, f.W, f.H, got.W, got.H)
		}
	}
	if err := frame.Save(filepath.Join(dir, "c.tiff"), f); !errors.Is(err, frame.ErrFormat) {
		t.Errorf("expected ErrFormat for .tiff, got %v", err)
	}
}

func TestPreviewFitsBounds(t *testing.T) {
	p := frame.Preview(ramp(400, 200), 100)
	b := p.Bounds()
	if b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("expected 100x50 preview, got %dx%d", b.Dx(), b.Dy())
	}
}
