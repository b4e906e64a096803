// Package imgrec contains an image recorder used to save scan frames to disk
// with index-numbered filenames.
package imgrec

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/ptycholab/ptycholab/frame"
	"github.com/ptycholab/ptycholab/generichttp"
)

const (
	// DefaultPrefix is the filename prefix used when none is set
	DefaultPrefix = "image_"

	// DefaultExt is the file extension used when none is set
	DefaultExt = ".fits"
)

// Recorder records image sequences as <Prefix><index><Ext>, optionally in
// yyyy-mm-dd subfolders of Root.  It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Ext is the extension, including the dot, which selects the file format
	Ext string

	// Dated places files in a yyyy-mm-dd subfolder of Root
	Dated bool

	// Enabled is a flag unused by this struct that allows consumers to disable its use in their code
	Enabled bool
}

// New returns an enabled recorder writing FITS files directly into root
func New(root string) *Recorder {
	return &Recorder{Root: root, Prefix: DefaultPrefix, Ext: DefaultExt, Enabled: true}
}

func (r *Recorder) ext() string {
	if r.Ext == "" {
		return DefaultExt
	}
	return r.Ext
}

// Dir returns the folder files are written to
func (r *Recorder) Dir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir()
}

func (r *Recorder) dir() string {
	if !r.Dated {
		return r.Root
	}
	return filepath.Join(r.Root, time.Now().Format("2006-01-02"))
}

// Naming returns the prefix and extension of the files written
func (r *Recorder) Naming() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Prefix, r.ext()
}

// Path returns the file path for the given index
func (r *Recorder) Path(index int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filepath.Join(r.dir(), fmt.Sprintf("%s%d%s", r.Prefix, index, r.ext()))
}

// Write saves f under index, creating the folder as needed, and returns its path
func (r *Recorder) Write(index int, f *frame.Frame, cards ...fitsio.Card) (string, error) {
	r.mu.Lock()
	fldr := r.dir()
	fn := filepath.Join(fldr, fmt.Sprintf("%s%d%s", r.Prefix, index, r.ext()))
	r.mu.Unlock()
	if err := os.MkdirAll(fldr, 0777); err != nil {
		return "", err
	}
	cards = append(cards, fitsio.Card{Name: "INDEX", Value: index, Comment: "scan point index"})
	return fn, frame.Save(fn, f, cards...)
}

// Next returns one past the highest index already present in the folder,
// or zero if there is none
func (r *Recorder) Next() int {
	r.mu.Lock()
	dn, prefix, ext := r.dir(), r.Prefix, r.ext()
	r.mu.Unlock()
	entries, err := os.ReadDir(dn)
	if err != nil {
		return 0
	}
	next := 0
	for _, e := range entries {
		// skip directories, wrong extension, and wrong prefix
		if e.IsDir() {
			continue
		}
		fn := e.Name()
		if !strings.HasSuffix(fn, ext) || !strings.HasPrefix(fn, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, prefix), ext))
		if err != nil {
			continue
		}
		if n+1 > next {
			next = n + 1
		}
	}
	return next
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := h.Recorder
	rec.mu.Lock()
	rec.Root = str.Str
	fldr := rec.dir()
	rec.mu.Unlock()
	err = os.MkdirAll(fldr, 0777)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.Recorder.mu.Lock()
	root := h.Recorder.Root
	h.Recorder.mu.Unlock()
	hp := generichttp.HumanPayload{T: types.String, String: root}
	hp.EncodeAndRespond(w, r)
}

// SetPrefix updates the filename prefix of the recorder
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Recorder.mu.Lock()
	h.Recorder.Prefix = str.Str
	h.Recorder.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	h.Recorder.mu.Lock()
	prefix := h.Recorder.Prefix
	h.Recorder.mu.Unlock()
	hp := generichttp.HumanPayload{T: types.String, String: prefix}
	hp.EncodeAndRespond(w, r)
}

// Inject adds GET and POST routes for /autowrite/root and /autowrite/prefix to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = h.SetPrefix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = h.GetPrefix
}
