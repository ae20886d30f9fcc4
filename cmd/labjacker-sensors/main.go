// Command labjacker-sensors owns the U3 device: it polls every channel
// on a ticker and emits the readings as CSV on stdout, and it accepts
// valve commands on stdin. The labjacker GUI launches it as a child
// process, but it is equally usable standalone:
//
//	labjacker-sensors > trace.csv
//
// OR
//
//	labjacker-sensors | labjacker
//
// Pass -sim to run against the built-in simulated device when no
// hardware is attached.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/labjack-tools/labjacker/env"
	"github.com/labjack-tools/labjacker/sensors"
	"github.com/labjack-tools/labjacker/u3"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `%[1]s: poll a LabJack U3 and emit a CSV reading trace on stdout

Usage:

 %[1]s > file

OR

 %[1]s | labjacker

Valve commands are read from stdin, one per line:

 toggle <4-7>
 set <4-7> <0|1>

`, os.Args[0])
	flag.PrintDefaults()
}

type valveCommand struct {
	fio    int
	set    bool
	target bool
}

// readCommands parses stdin and forwards valve commands to the sampling
// loop, which serializes all device access.
func readCommands(out chan<- valveCommand) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		fio, err := strconv.Atoi(fields[1])
		if err != nil || fio < u3.FirstValveFIO || fio > u3.LastValveFIO {
			log.Printf("ignoring command with bad valve line %q", fields[1])
			continue
		}
		switch fields[0] {
		case "toggle":
			out <- valveCommand{fio: fio}
		case "set":
			if len(fields) != 3 || (fields[2] != "0" && fields[2] != "1") {
				log.Printf("ignoring malformed set command %q", scanner.Text())
				continue
			}
			out <- valveCommand{fio: fio, set: true, target: fields[2] == "1"}
		default:
			log.Printf("ignoring unknown command %q", fields[0])
		}
	}
}

func applyCommand(dev u3.Device, cmd valveCommand) {
	target := cmd.target
	if !cmd.set {
		current, err := dev.FIOState(cmd.fio)
		if err != nil {
			log.Printf("failed reading FIO%d before toggle: %v", cmd.fio, err)
			return
		}
		target = !current
	}
	if err := dev.SetFIOState(cmd.fio, target); err != nil {
		log.Printf("failed driving FIO%d: %v", cmd.fio, err)
	}
}

func main() {
	flag.Usage = usage
	dur := flag.Duration("sample-interval", 500*time.Millisecond, "Interval between reading new samples from the device")
	outputName := flag.String("output", "-", "Output file for CSV reading data")
	sim := flag.Bool("sim", false, "Use the simulated device instead of real hardware")
	simSeed := flag.Int64("sim-seed", 0, "Seed for the simulated device (0 seeds from the clock)")
	flag.Parse()

	if cfg, err := env.Load(); err != nil {
		log.Printf("ignoring environment configuration: %v", err)
	} else if cfg.SampleInterval > 0 {
		intervalSet := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == "sample-interval" {
				intervalSet = true
			}
		})
		// An explicit flag wins over the environment.
		if !intervalSet {
			*dur = cfg.SampleInterval
		}
	}

	var (
		dev u3.Device
		err error
	)
	if *sim {
		dev = u3.OpenSim(*simSeed)
	} else {
		dev, err = u3.Open()
		if err != nil {
			log.Fatalf("failed connecting to U3 device: %v", err)
		}
	}
	defer dev.Close()

	cfg, err := dev.Config()
	if err != nil {
		log.Fatalf("failed reading U3 configuration: %v", err)
	}
	log.Printf("connected to %s serial %d firmware %s", cfg.DeviceName, cfg.SerialNumber, cfg.FirmwareVersion)

	var output io.WriteCloser
	if *outputName == "-" {
		output = os.Stdout
	} else {
		f, err := os.Create(*outputName)
		if err != nil {
			log.Fatalf("failed opening output file %q: %v", *outputName, err)
		}
		output = f
	}

	sensorList := sensors.ForDevice(dev)

	// Device identity rides ahead of the CSV header as a comment line so
	// the GUI can show it without a second channel.
	fmt.Fprintf(output, "# device %s serial %d firmware %s hardware %s\n",
		cfg.DeviceName, cfg.SerialNumber, cfg.FirmwareVersion, cfg.HardwareVersion)
	fmt.Fprintf(output, "sample start (ns), sample end (ns)")
	for _, s := range sensorList {
		if s.Unit() == sensors.State {
			fmt.Fprintf(output, ", %s", s.Name())
		} else {
			fmt.Fprintf(output, ", %s (%s)", s.Name(), s.Unit())
		}
	}
	fmt.Fprintln(output)

	commands := make(chan valveCommand, 8)
	go readCommands(commands)

	cells := make([]string, len(sensorList))
	sampleRate := *dur
	lastReadTime := time.Now()
	ticker := time.NewTicker(sampleRate)
	defer ticker.Stop()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	for {
		select {
		case <-sigChan:
			if err := output.Close(); err != nil {
				log.Printf("failed closing output: %v", err)
			}
			return
		case cmd := <-commands:
			applyCommand(dev, cmd)
		case sampleEndTime := <-ticker.C:
			for i, s := range sensorList {
				v, err := s.Read()
				if err != nil {
					// A failed channel leaves an empty cell; the GUI
					// shows it as absent and polling continues.
					log.Printf("failed reading %s: %v", s.Name(), err)
					cells[i] = ""
					continue
				}
				if s.Unit() == sensors.State {
					cells[i] = strconv.Itoa(int(v))
				} else {
					cells[i] = strconv.FormatFloat(v, 'f', 5, 64)
				}
			}
			readFinishedAt := time.Now()
			if readDuration := readFinishedAt.Sub(lastReadTime); readDuration < sampleRate*2 {
				fmt.Fprintf(output, "%d, %d", lastReadTime.UnixNano(), sampleEndTime.UnixNano())
				for _, cell := range cells {
					fmt.Fprintf(output, ", %s", cell)
				}
				fmt.Fprintln(output)
			} else {
				log.Printf("dropping sample with read duration %d >= sample rate %d", readDuration, sampleRate)
			}
			lastReadTime = sampleEndTime
		}
	}
}
