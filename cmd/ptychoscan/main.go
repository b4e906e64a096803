package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/ptycholab/ptycholab/acquire"
	"github.com/ptycholab/ptycholab/camera"
	"github.com/ptycholab/ptycholab/dataset"
	"github.com/ptycholab/ptycholab/frame"
	"github.com/ptycholab/ptycholab/ptycho"
	"github.com/ptycholab/ptycholab/stitch"
	"github.com/ptycholab/ptycholab/trajectory"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "ptychoscan.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconfig() Config {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `ptychoscan drives a piezo stage and camera through a spiral ptychography
scan and processes the result.  The server exposes the stage and the scan
over HTTP; the other commands work offline.

Usage:
	ptychoscan <command> [args]

Commands:
	run
	scan
	spiral [plot.png]
	stitch <folder>
	reconstruct <folder>
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `ptychoscan is amenable to configuration via its .yaml file, ptychoscan.yml
in the working directory.  Use mkconf to write one with the defaults.  For a
primer on YAML, see https://yaml.org/start.html

Durations are written as Go durations, e.g. 100ms or 30s.  Positions and
lengths are in micrometers unless noted.

run          serves the stage on /stage, the scan on /scan, metrics on
             /metrics and the list of routes on /endpoints
scan         runs the configured trajectory without a server.  Ctrl-C aborts
             once the current point is written, a second Ctrl-C at once
spiral       prints the configured trajectory as a position log, and plots it
             if a file name is given
stitch       stitches the frames of a scan folder into stitched.fits and
             stitched.png in that folder
reconstruct  runs PIE over a scan folder, writing object snapshots into it

With mock: true the stage and camera are simulated.  With camera.trigger set,
frames are requested from acquisition software at that URL and picked up
from the scan folder once written.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("ptychoscan version %v\n", Version)
}

func spinner(msg string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
	})
	if err != nil {
		log.Fatal(err)
	}
	if err = s.Start(); err != nil {
		// not a terminal, run without
		log.Println(err)
	}
	return s
}

func run() {
	c := loadconfig()
	hw, err := OpenHardware(c)
	if err != nil {
		log.Fatal(err)
	}
	defer hw.Close()
	srv := BuildMux(c, hw, prometheus.NewRegistry())
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, srv.Router))
}

// failed stops the spinner with err and returns the exit code of a failure
func failed(spin *yacspin.Spinner, err error) int {
	spin.StopFailMessage(err.Error())
	spin.StopFail()
	return 1
}

// runscan runs the configured trajectory.  The first Ctrl-C aborts once the
// current point is written, the second stops at once
func runscan() int {
	c := loadconfig()
	traj, err := trajectory.Generate(c.Trajectory, c.Path)
	if err != nil {
		log.Fatal(err)
	}
	hw, err := OpenHardware(c)
	if err != nil {
		log.Fatal(err)
	}
	defer hw.Close()

	spin := spinner(fmt.Sprintf("scanning %d points", traj.Len()))
	obs := acquire.ObserverFuncs{
		Captured: func(i int, p trajectory.Point, w camera.Written) {
			spin.Message(fmt.Sprintf("%d/%d at (%.2f, %.2f) µm", i+1, traj.Len(), p.X, p.Y))
		},
	}
	coord := acquire.New(c.Scan, acquire.WithObserver(obs))
	coord.Bind(hw.Stage, hw.Camera)
	coord.SetTrajectory(traj)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
		case <-ctx.Done():
			return
		}
		coord.Abort()
		spin.Message("aborting after the current point, Ctrl-C again to stop now")
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()
	rep, err := coord.Run(ctx)
	if err != nil {
		return failed(spin, err)
	}
	spin.StopMessage(fmt.Sprintf("%d points in %v, log %s", rep.Visited, rep.Finished.Sub(rep.Started).Round(time.Millisecond), rep.LogPath))
	spin.Stop()
	return 0
}

func spiral(args []string) {
	c := loadconfig()
	traj, err := trajectory.Generate(c.Trajectory, c.Path)
	if err != nil {
		log.Fatal(err)
	}
	if err = trajectory.WriteLog(os.Stdout, traj.Points); err != nil {
		log.Fatal(err)
	}
	log.Printf("%d points, path length %.1f µm", traj.Len(), trajectory.PathLength(traj.Points))
	if len(args) == 0 {
		return
	}
	f, err := os.Create(args[0])
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err = trajectory.WritePNG(f, traj.Points, 0, 800, 800); err != nil {
		log.Fatal(err)
	}
}

func folder(args []string) string {
	if len(args) == 0 {
		log.Fatal("a scan folder is required")
	}
	return args[0]
}

func stitchcmd(args []string) int {
	c := loadconfig()
	dir := folder(args)
	spin := spinner("loading " + dir)
	caps, err := dataset.Load(dir, c.Dataset)
	if err != nil {
		return failed(spin, err)
	}
	spin.Message(fmt.Sprintf("stitching %d frames", len(caps)))
	img, canvas, err := stitch.Composite(caps, c.Stitch.Optical, c.Stitch.Canvas)
	if err != nil {
		return failed(spin, err)
	}
	cards := []fitsio.Card{
		{Name: "NFRAMES", Value: len(caps), Comment: "number of frames stitched"},
		{Name: "SCALE", Value: c.Stitch.Optical.Factor(), Comment: "optical scaling factor"},
	}
	for _, out := range []string{"stitched.fits", "stitched.png"} {
		if err = frame.Save(filepath.Join(dir, out), img, cards...); err != nil {
			return failed(spin, err)
		}
	}
	spin.StopMessage(fmt.Sprintf("%dx%d canvas, %d pixels covered", img.W, img.H, canvas.Covered()))
	spin.Stop()
	return 0
}

func reconstruct(args []string) int {
	c := loadconfig()
	dir := folder(args)
	spin := spinner("loading " + dir)
	caps, err := dataset.Load(dir, c.Dataset)
	if err != nil {
		return failed(spin, err)
	}
	patterns := dataset.Frames(caps)
	rc := c.Reconstruct
	probe := ptycho.GaussianProbe(patterns[0].W, patterns[0].H, rc.Probe)
	positions := ptycho.PixelPositions(dataset.Points(caps), rc.ObjectPixel)

	var snapErr error
	eng := ptycho.Engine{
		Iterations:    rc.Iterations,
		Beta:          rc.Beta,
		Epsilon:       rc.Epsilon,
		SnapshotEvery: rc.SnapshotEvery,
		OnIteration: func(it int, e float64) {
			spin.Message(fmt.Sprintf("iteration %d/%d, error %.4g", it+1, rc.Iterations, e))
		},
		OnSnapshot: func(it int, obj *ptycho.Field) {
			if err := writeSnapshot(dir, it, obj); err != nil && snapErr == nil {
				snapErr = err
			}
		},
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	obj, err := eng.Reconstruct(ctx, patterns, positions, probe)
	if err != nil && !errors.Is(err, context.Canceled) {
		return failed(spin, err)
	}
	if obj != nil {
		if werr := writeSnapshot(dir, rc.Iterations, obj); werr != nil {
			return failed(spin, werr)
		}
	}
	if snapErr != nil {
		return failed(spin, snapErr)
	}
	if err != nil {
		return failed(spin, errors.New("interrupted, last object written"))
	}
	spin.StopMessage(fmt.Sprintf("%d iterations over %d patterns", rc.Iterations, len(patterns)))
	spin.Stop()
	return 0
}

// writeSnapshot saves the magnitude and phase of the object as FITS, with
// a PNG preview of the magnitude
func writeSnapshot(dir string, it int, obj *ptycho.Field) error {
	mag, phase := obj.Magnitude(), obj.Phase()
	card := fitsio.Card{Name: "ITER", Value: it, Comment: "PIE iteration"}
	if err := frame.Save(filepath.Join(dir, fmt.Sprintf("object_mag_%d.fits", it)), mag, card); err != nil {
		return err
	}
	if err := frame.Save(filepath.Join(dir, fmt.Sprintf("object_phase_%d.fits", it)), phase, card); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("object_mag_%d.png", it)))
	if err != nil {
		return err
	}
	defer f.Close()
	return frame.WritePreview(f, mag, 512)
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "scan":
		os.Exit(runscan())
	case "spiral":
		spiral(args[2:])
		return
	case "stitch":
		os.Exit(stitchcmd(args[2:]))
	case "reconstruct":
		os.Exit(reconstruct(args[2:]))
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
