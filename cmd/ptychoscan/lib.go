package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ptycholab/ptycholab/acquire"
	"github.com/ptycholab/ptycholab/camera"
	"github.com/ptycholab/ptycholab/dataset"
	"github.com/ptycholab/ptycholab/generichttp"
	"github.com/ptycholab/ptycholab/generichttp/ascii"
	httpcam "github.com/ptycholab/ptycholab/generichttp/camera"
	"github.com/ptycholab/ptycholab/generichttp/motion"
	"github.com/ptycholab/ptycholab/generichttp/scan"
	"github.com/ptycholab/ptycholab/imgrec"
	mot "github.com/ptycholab/ptycholab/motion"
	"github.com/ptycholab/ptycholab/ptycho"
	"github.com/ptycholab/ptycholab/server/middleware/locker"
	"github.com/ptycholab/ptycholab/smaract"
	"github.com/ptycholab/ptycholab/stitch"
	"github.com/ptycholab/ptycholab/trajectory"
	"github.com/ptycholab/ptycholab/util"
)

// StageSetup describes the connection to the positioner
type StageSetup struct {
	// Addr holds the network or filesystem address of the controller,
	// e.g. 192.168.1.200:55551 or /dev/ttyUSB0
	Addr string `yaml:"addr" koanf:"addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"serial" koanf:"serial"`

	// Settings are applied to every channel by Initialize
	Settings smaract.Settings `yaml:"settings" koanf:"settings"`

	// Limits are software limits in µm keyed by axis name, e.g. "X"
	Limits map[string]util.Limiter `yaml:"limits" koanf:"limits"`
}

// CameraSetup describes where frames come from
type CameraSetup struct {
	// Trigger is the URL of the acquisition software.  When set, the camera
	// is driven by POSTing {"path": ..., "frames": ...} to it and watching
	// for the file.  Otherwise frames are synthesised
	Trigger string `yaml:"trigger" koanf:"trigger"`

	// Quiet is the time a file must go unmodified to be considered written
	Quiet time.Duration `yaml:"quiet" koanf:"quiet"`

	// Width and Height are the size of synthesised frames
	Width  int `yaml:"width" koanf:"width"`
	Height int `yaml:"height" koanf:"height"`

	// Ext selects the file format, .fits or .png
	Ext string `yaml:"ext" koanf:"ext"`
}

// StitchSetup holds the parameters of the stitch command
type StitchSetup struct {
	Optical stitch.Optical `yaml:"optical" koanf:"optical"`
	Canvas  stitch.Options `yaml:"canvas" koanf:"canvas"`
}

// ReconstructSetup holds the parameters of the reconstruct command
type ReconstructSetup struct {
	Probe ptycho.ProbeParams `yaml:"probe" koanf:"probe"`

	// ObjectPixel is the size of an object pixel in µm, used to convert
	// stage positions to pixel offsets
	ObjectPixel float64 `yaml:"objectPixel" koanf:"objectPixel"`

	Iterations    int     `yaml:"iterations" koanf:"iterations"`
	Beta          float64 `yaml:"beta" koanf:"beta"`
	Epsilon       float64 `yaml:"epsilon" koanf:"epsilon"`
	SnapshotEvery int     `yaml:"snapshotEvery" koanf:"snapshotEvery"`
}

// Config is a struct that holds the initialization parameters of the
// server and the offline commands.  It is populated by koanf
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"addr" koanf:"addr"`

	// Mock replaces the stage and camera with simulations
	Mock bool `yaml:"mock" koanf:"mock"`

	Stage       StageSetup         `yaml:"stage" koanf:"stage"`
	Camera      CameraSetup        `yaml:"camera" koanf:"camera"`
	Scan        acquire.Config     `yaml:"scan" koanf:"scan"`
	Trajectory  trajectory.Params  `yaml:"trajectory" koanf:"trajectory"`
	Path        trajectory.Options `yaml:"path" koanf:"path"`
	Dataset     dataset.Options    `yaml:"dataset" koanf:"dataset"`
	Stitch      StitchSetup        `yaml:"stitch" koanf:"stitch"`
	Reconstruct ReconstructSetup   `yaml:"reconstruct" koanf:"reconstruct"`
}

// DefaultConfig is the configuration used where the file is silent
func DefaultConfig() Config {
	return Config{
		Addr: ":8000",
		Mock: true,
		Stage: StageSetup{
			Addr:     "192.168.1.200:55551",
			Settings: smaract.DefaultSettings(),
			Limits:   map[string]util.Limiter{},
		},
		Camera: CameraSetup{
			Quiet:  camera.DefaultQuiet,
			Width:  128,
			Height: 128,
			Ext:    imgrec.DefaultExt,
		},
		Scan:       acquire.DefaultConfig(),
		Trajectory: trajectory.Params{N: 100, Radius: 50},
		Path:       trajectory.Options{StopFraction: trajectory.DefaultStopFraction, Shift: true},
		Stitch: StitchSetup{
			Optical: stitch.Optical{Wavelength: 0.6328, Distance: 50000, ProbeDiameter: 2000, PixelSize: 5.5},
		},
		Reconstruct: ReconstructSetup{
			Probe:         ptycho.ProbeParams{BeamDiameter: 2000, Wavelength: 0.6328, PixelSize: 5.5, Distance: 50000},
			ObjectPixel:   5.5,
			Iterations:    50,
			Beta:          ptycho.DefaultBeta,
			Epsilon:       ptycho.DefaultEpsilon,
			SnapshotEvery: 10,
		},
	}
}

// limits converts the configured limits to per-axis limiters
func (s StageSetup) limits() (map[mot.Axis]util.Limiter, error) {
	out := make(map[mot.Axis]util.Limiter, len(s.Limits))
	for k, v := range s.Limits {
		a, err := mot.ParseAxis(k)
		if err != nil {
			return nil, err
		}
		out[a] = v
	}
	return out, nil
}

// Hardware is the stage and camera a server or scan works with
type Hardware struct {
	Stage  mot.Stage
	Camera camera.Averager

	// Source is the sensor behind Camera, if it is read out directly
	Source camera.FrameSource

	// Raw is the command channel of the stage controller, if any
	Raw ascii.RawCommunicator

	close func()
}

// Close releases the camera goroutines
func (h Hardware) Close() {
	if h.close != nil {
		h.close()
	}
}

// OpenHardware connects to the stage and camera described by c, or their
// simulations if c.Mock is set
func OpenHardware(c Config) (Hardware, error) {
	var (
		hw    Hardware
		stage mot.Stage
	)
	if c.Mock {
		stage = mot.NewMock()
	} else {
		ctl := smaract.NewController(c.Stage.Addr, c.Stage.Serial)
		ctl.Settings = c.Stage.Settings
		if err := ctl.Initialize(); err != nil {
			return hw, fmt.Errorf("initializing stage at %s: %w", c.Stage.Addr, err)
		}
		stage = ctl
		hw.Raw = ctl
	}
	lim, err := c.Stage.limits()
	if err != nil {
		return hw, err
	}
	if len(lim) > 0 {
		stage = mot.Limited{Stage: stage, Limits: lim}
	}
	hw.Stage = stage

	if c.Camera.Trigger != "" {
		w, err := camera.NewWatcher(HTTPTrigger(c.Camera.Trigger))
		if err != nil {
			return hw, err
		}
		if c.Camera.Quiet > 0 {
			w.Quiet = c.Camera.Quiet
		}
		if c.Camera.Ext != "" {
			w.Ext = c.Camera.Ext
		}
		hw.Camera = w
		hw.close = func() { w.Close() }
		return hw, nil
	}
	src := camera.NewMockSource(c.Camera.Width, c.Camera.Height)
	g := camera.NewGrabber(src)
	if c.Camera.Ext != "" {
		g.Ext = c.Camera.Ext
	}
	hw.Camera = g
	hw.Source = src
	hw.close = func() { g.Close() }
	return hw, nil
}

// HTTPTrigger returns a TriggerFunc which POSTs the path and frame count
// to url as JSON
func HTTPTrigger(url string) camera.TriggerFunc {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(path string, frames int) error {
		body, err := json.Marshal(struct {
			Path   string `json:"path"`
			Frames int    `json:"frames"`
		}{path, frames})
		if err != nil {
			return err
		}
		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("trigger %s: %s", url, resp.Status)
		}
		return nil
	}
}

// Server is the set of HTTP components BuildMux assembled
type Server struct {
	Router  chi.Router
	Scan    *scan.HTTPScan
	Lock    *locker.Locker
	Metrics *scan.Metrics
}

// BuildMux wires the hardware, the scan coordinator and the metrics registry
// into a chi router.  The stage is served on /stage and the camera on
// /camera, both locked while a scan runs, and the scan on /scan.  The mux
// serves a special route, /endpoints, which returns all routes as JSON
func BuildMux(c Config, hw Hardware, reg *prometheus.Registry) Server {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	lock := locker.New()
	metrics := scan.NewMetrics(reg)

	// stage
	lim, err := c.Stage.limits()
	if err != nil {
		log.Println(err)
	}
	limiter := motion.LimitMiddleware{Limits: lim, Mov: hw.Stage}
	stage := motion.NewHTTPMotionController(hw.Stage)
	limiter.Inject(stage)
	if hw.Raw != nil {
		ascii.InjectRawComm(stage, hw.Raw)
	}
	locker.Inject(stage, lock)
	stageRouter := chi.NewRouter()
	stageRouter.Use(lock.Check, limiter.Check)
	stage.RT().Bind(stageRouter)
	root.Mount("/stage", stageRouter)
	supergraph["/stage"] = stage.RT().Endpoints()

	// camera
	if hw.Source != nil {
		cam := httpcam.NewHTTPCamera(hw.Source)
		camRouter := chi.NewRouter()
		camRouter.Use(lock.Check)
		cam.RT().Bind(camRouter)
		root.Mount("/camera", camRouter)
		supergraph["/camera"] = cam.RT().Endpoints()
	}

	// scan
	coord := acquire.New(c.Scan, acquire.WithObserver(metrics))
	coord.Bind(hw.Stage, hw.Camera)
	if t, err := trajectory.Generate(c.Trajectory, c.Path); err == nil {
		coord.SetTrajectory(t)
	} else {
		log.Printf("configured trajectory: %v", err)
	}
	sc := scan.NewHTTPScan(coord, lock)
	rec := imgrec.New(c.Scan.Dir)
	sc.Recorder = rec
	if c.Camera.Ext != "" {
		rec.Ext = c.Camera.Ext
	}
	if n, ok := hw.Camera.(camera.Namer); ok {
		sc.Namer = n
	}
	imgrec.NewHTTPWrapper(rec).Inject(sc)
	scanRouter := chi.NewRouter()
	sc.RT().Bind(scanRouter)
	root.Mount("/scan", scanRouter)
	supergraph["/scan"] = sc.RT().Endpoints()

	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	root.Get("/endpoints", generichttp.Endpoints(supergraph))
	return Server{Router: root, Scan: sc, Lock: lock, Metrics: metrics}
}
