// Command labjacker is a desktop UI for monitoring pressure measured by a
// LabJack U3. It launches the labjacker-sensors helper to own the device,
// converts the measured voltage difference to pressure with a configurable
// calibration formula, and can drive the attached valves either manually or
// through a timed sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gioui.org/app"
	"gioui.org/op"
	"gioui.org/unit"
	"gioui.org/x/explorer"
	"git.sr.ht/~gioverse/skel/stream"
	"github.com/fsnotify/fsnotify"

	"github.com/labjack-tools/labjacker/backend"
	"github.com/labjack-tools/labjacker/calibration"
	"github.com/labjack-tools/labjacker/env"
	"github.com/labjack-tools/labjacker/sink"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `%[1]s: monitor pressure read from a LabJack U3

Usage:

 %[1]s [trace-file]

If a trace-file argument is provided, it will be replayed instead of
launching the sensors. Trace files that are actively being written are
tailed as they grow.

`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := env.Load()
	if err != nil {
		log.Fatalf("failed loading configuration: %v", err)
	}
	calPath := cfg.CalibrationPath
	if calPath == "" {
		calPath = calibration.DefaultPath()
	}
	converter := calibration.NewConverter(calibration.Load(calPath))

	var recorders []backend.Recorder
	if cfg.InfluxEnabled() {
		recorders = append(recorders, sink.NewInfluxSink(cfg))
		log.Printf("recording readings to influxdb at %s", cfg.InfluxURL)
	}
	if cfg.MQTTEnabled() {
		mqttSink, err := sink.NewMQTTSink(cfg)
		if err != nil {
			log.Printf("mqtt sink unavailable: %v", err)
		} else {
			recorders = append(recorders, mqttSink)
			log.Printf("publishing readings to %s topic %s", cfg.MQTTBroker, cfg.MQTTTopic)
		}
	}

	appCtx, cancel := context.WithCancel(context.Background())
	mutator := stream.NewMutator(appCtx, 5*time.Second)
	bundle, err := backend.NewBundle(appCtx, mutator, converter, recorders...)
	if err != nil {
		log.Fatalf("failed initializing backend: %v", err)
	}
	go watchCalibration(appCtx, calPath, bundle.Datasource)

	if traceName := flag.Arg(0); traceName != "" {
		traceFile, err := os.Open(traceName)
		if err != nil {
			log.Fatalf("failed opening trace file %q: %v", traceName, err)
		}
		bundle.Datasource.LoadFromStream(backend.ModeReplaying, traceFile)
	}

	go func() {
		w := app.NewWindow(
			app.Title("LabJacker"),
			app.Size(unit.Dp(550), unit.Dp(700)),
		)
		ws := backend.NewWindowState(appCtx, bundle, w)
		expl := explorer.NewExplorer(w)
		if err := loop(w, ws, expl); err != nil {
			log.Fatalf("window loop ended: %v", err)
		}
		cancel()
		os.Exit(0)
	}()
	app.Main()
}

// watchCalibration reloads the calibration formula whenever the file
// changes on disk. Readings taken after a reload use the new formula.
func watchCalibration(ctx context.Context, path string, ds *backend.Datasource) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("failed creating calibration watcher: %v", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		// The file may not exist yet. The default formula is already
		// active, so there is nothing to watch.
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Printf("calibration file changed, reloading")
			ds.SetFormula(calibration.Load(path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("calibration watcher error: %v", err)
		}
	}
}

func loop(w *app.Window, ws backend.WindowState, expl *explorer.Explorer) error {
	var ops op.Ops
	ui := NewUI(ws, expl)
	for {
		ev := w.NextEvent()
		expl.ListenEvents(ev)
		switch ev := ev.(type) {
		case app.DestroyEvent:
			return ev.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, ev)
			ui.Layout(gtx)
			ev.Frame(gtx.Ops)
		}
	}
}
