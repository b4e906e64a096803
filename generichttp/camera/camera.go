// Package camera provides a generic HTTP interface to a camera frame source
package camera

import (
	"encoding/json"
	"go/types"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/ptycholab/ptycholab/camera"
	"github.com/ptycholab/ptycholab/frame"
	"github.com/ptycholab/ptycholab/generichttp"
)

// HTTPCamera wraps a frame source with HTTP
type HTTPCamera struct {
	Src camera.FrameSource

	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper with the route table pre-configured.
// Exposure routes are added if the source is an ExposureSetter
func NewHTTPCamera(src camera.FrameSource) HTTPCamera {
	w := HTTPCamera{Src: src}
	rt := generichttp.RouteTable{}
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/frame"}] = GetFrame(src)
	if e, ok := src.(camera.ExposureSetter); ok {
		HTTPExposure(e, rt)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// HTTPExposure injects exposure time routes into a route table
func HTTPExposure(e camera.ExposureSetter, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure-time"}] = GetExposureTime(e)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure-time"}] = SetExposureTime(e)
}

// parseExposure parses a duration such as "25ms"; a bare number is seconds
func parseExposure(s string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * 1e9), nil
	}
	return time.ParseDuration(s)
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
func SetExposureTime(e camera.ExposureSetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		texp := r.URL.Query().Get("exposureTime")
		var (
			d   time.Duration
			err error
		)
		if texp == "" {
			f := generichttp.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			d = time.Duration(f.F64 * 1e9) // s => ns
		} else {
			d, err = parseExposure(texp)
		}
		if err == nil && d <= 0 {
			err = strconv.ErrRange
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = e.SetExposureTime(d)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetExposureTime gets the exposure time in seconds on a GET request
func GetExposureTime(e camera.ExposureSetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := e.GetExposureTime()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: d.Seconds()}
		hp.EncodeAndRespond(w, r)
	}
}

// GetFrame reads out a frame and returns it on a GET request.
//
// the image format may be specified with the fmt query parameter, one of
// jpg (an 8-bit preview, the default), png (16-bit) or fits.
//
// the exposure time may be specified as a query parameter exposureTime,
// as for SetExposureTime.  If it is not given, the existing value is used
func GetFrame(src camera.FrameSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if texp := q.Get("exposureTime"); texp != "" {
			e, ok := src.(camera.ExposureSetter)
			if !ok {
				http.Error(w, "camera has no exposure control", http.StatusBadRequest)
				return
			}
			d, err := parseExposure(texp)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err = e.SetExposureTime(d); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		format := q.Get("fmt")
		if format == "" {
			format = "jpg"
		}
		if format != "jpg" && format != "png" && format != "fits" {
			http.Error(w, "fmt must be jpg, png or fits", http.StatusBadRequest)
			return
		}

		res, err := src.GetRes()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		buf, err := src.GetFrameU16()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		f, err := frame.FromU16(res[0], res[1], buf)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		hdr := w.Header()
		switch format {
		case "jpg":
			hdr.Set("Content-Type", "image/jpeg")
			err = jpeg.Encode(w, frame.Preview(f, max(f.W, f.H)), nil)
		case "png":
			hdr.Set("Content-Type", "image/png")
			err = frame.WritePNG(w, f)
		case "fits":
			cards := []fitsio.Card{}
			if carder, ok := src.(camera.MetadataMaker); ok {
				cards = carder.CollectHeaderMetadata()
			}
			hdr.Set("Content-Type", "image/fits")
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			err = frame.WriteFITS(w, f, cards...)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
