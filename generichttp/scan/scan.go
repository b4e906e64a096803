// Package scan provides an HTTP interface to the scan coordinator
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/ptycholab/ptycholab/acquire"
	"github.com/ptycholab/ptycholab/camera"
	"github.com/ptycholab/ptycholab/generichttp"
	"github.com/ptycholab/ptycholab/imgrec"
	"github.com/ptycholab/ptycholab/server/middleware/locker"
	"github.com/ptycholab/ptycholab/trajectory"
)

// LockOwner is the owner of the stage lock while a scan runs
const LockOwner = "scan"

// TrajectoryRequest generates a trajectory
type TrajectoryRequest struct {
	Params  trajectory.Params  `json:"params"`
	Options trajectory.Options `json:"options"`
}

// Status is the coordinator status and the outcome of the last scan
type Status struct {
	acquire.Status
	Visited   int    `json:"visited"`
	LastError string `json:"lastError,omitempty"`
}

// HTTPScan wraps a coordinator with HTTP.  While a scan runs, the stage
// lock is held so manual motion is refused
type HTTPScan struct {
	Coord *acquire.Coordinator
	Lock  *locker.Locker

	// Recorder, if not nil, sets the folder of each scan started over HTTP,
	// and the file names if Namer is not nil either
	Recorder *imgrec.Recorder
	Namer    camera.Namer

	RouteTable generichttp.RouteTable

	mu      sync.Mutex
	visited int
	lastErr error
	done    chan struct{}
}

// NewHTTPScan returns a new HTTP wrapper with the route table pre-configured.
// lock may be nil
func NewHTTPScan(c *acquire.Coordinator, lock *locker.Locker) *HTTPScan {
	h := &HTTPScan{Coord: c, Lock: lock}
	rt := generichttp.RouteTable{}
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/start"}] = h.Start
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/abort"}] = h.Abort
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}] = h.Status
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/trajectory"}] = h.GetTrajectory
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/trajectory"}] = h.SetTrajectory
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/trajectory.png"}] = h.TrajectoryPNG
	h.RouteTable = rt
	return h
}

// RT satisfies the HTTPer interface
func (h *HTTPScan) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Start begins a scan in the background and responds with StatusAccepted.
// A body of TrajectoryRequest replaces the trajectory first; an empty body
// scans the current one
func (h *HTTPScan) Start(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength != 0 {
		req := TrajectoryRequest{}
		err := json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		t, err := trajectory.Generate(req.Params, req.Options)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.Coord.SetTrajectory(t)
	}
	if h.Coord.Trajectory().Len() == 0 {
		http.Error(w, acquire.ErrNotReady.Error(), http.StatusBadRequest)
		return
	}
	if h.Lock != nil && !h.Lock.Lock(LockOwner) {
		http.Error(w, "stage is locked by "+h.Lock.Status().Owner, http.StatusLocked)
		return
	}
	if h.Coord.Running() {
		if h.Lock != nil {
			h.Lock.Unlock(LockOwner)
		}
		http.Error(w, acquire.ErrRunning.Error(), http.StatusConflict)
		return
	}
	if h.Recorder != nil {
		cfg := h.Coord.Config()
		cfg.Dir = h.Recorder.Dir()
		h.Coord.SetConfig(cfg)
		if h.Namer != nil {
			h.Namer.SetNaming(h.Recorder.Naming())
		}
	}
	done := make(chan struct{})
	h.mu.Lock()
	h.done = done
	h.mu.Unlock()
	go func() {
		defer close(done)
		rep, err := h.Coord.Run(context.Background())
		if h.Lock != nil {
			h.Lock.Unlock(LockOwner)
		}
		h.mu.Lock()
		h.visited, h.lastErr = rep.Visited, err
		h.mu.Unlock()
		if err != nil && !errors.Is(err, acquire.ErrAborted) {
			log.Println(err)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

// Wait blocks until the last scan started over HTTP returns
func (h *HTTPScan) Wait() {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Abort aborts the running scan, if any
func (h *HTTPScan) Abort(w http.ResponseWriter, r *http.Request) {
	h.Coord.Abort()
	w.WriteHeader(http.StatusOK)
}

// Status responds with the Status as JSON
func (h *HTTPScan) Status(w http.ResponseWriter, r *http.Request) {
	st := Status{Status: h.Coord.Status()}
	h.mu.Lock()
	st.Visited = h.visited
	if h.lastErr != nil {
		st.LastError = h.lastErr.Error()
	}
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetTrajectory responds with the trajectory as JSON
func (h *HTTPScan) GetTrajectory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(h.Coord.Trajectory())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// SetTrajectory generates a trajectory from a TrajectoryRequest body
func (h *HTTPScan) SetTrajectory(w http.ResponseWriter, r *http.Request) {
	req := TrajectoryRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.Coord.Running() {
		http.Error(w, acquire.ErrRunning.Error(), http.StatusConflict)
		return
	}
	t, err := trajectory.Generate(req.Params, req.Options)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Coord.SetTrajectory(t)
	w.WriteHeader(http.StatusOK)
}

// TrajectoryPNG renders the trajectory with the points visited so far
// highlighted.  The w and h query parameters set the size in pixels
func (h *HTTPScan) TrajectoryPNG(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size := [2]int{600, 600}
	for i, key := range []string{"w", "h"} {
		if s := q.Get(key); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 16 || v > 4096 {
				http.Error(w, "invalid "+key, http.StatusBadRequest)
				return
			}
			size[i] = v
		}
	}
	visited := 0
	if st := h.Coord.Status(); st.Running {
		visited = st.Index
	} else {
		h.mu.Lock()
		visited = h.visited
		h.mu.Unlock()
	}
	w.Header().Set("Content-Type", "image/png")
	err := trajectory.WritePNG(w, h.Coord.Trajectory().Points, visited, size[0], size[1])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
