package backend

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gioui.org/x/explorer"
	"git.sr.ht/~gioverse/skel/stream"
	"github.com/fsnotify/fsnotify"
	"github.com/labjack-tools/labjacker/calibration"
	"github.com/labjack-tools/labjacker/sensors"
	"github.com/labjack-tools/labjacker/u3"
)

// Value is a single channel reading that may be absent. A failed device
// read leaves an empty CSV cell, which parses to an absent Value.
type Value struct {
	F  float64
	OK bool
}

// Reading is the most recent complete sample row from a session.
type Reading struct {
	StartTimestampNS, EndTimestampNS int64
	Temperature                      Value
	AIN0, AIN1, VDiff                Value
	Pressure                         Value
	// Valves holds the raw line states of FIO4 through FIO7. A high
	// line means the valve is closed.
	Valves [4]Value
}

// ValveClosed reports the state of the valve on the given FIO line, if known.
func (r Reading) ValveClosed(fio int) (closed, known bool) {
	if fio < u3.FirstValveFIO || fio > u3.LastValveFIO {
		return false, false
	}
	v := r.Valves[fio-u3.FirstValveFIO]
	return v.F != 0, v.OK
}

type Session struct {
	ID        string
	Data      *Dataset
	Mode      Mode
	Device    u3.ConfigInfo
	HasDevice bool
	Reading   Reading
	// ReadErr describes a transient per-channel read failure. It clears
	// as soon as a fully-populated row arrives.
	ReadErr string
	Err     error
}

type RWBox[T any] struct {
	t    T
	lock sync.RWMutex
}

func (r *RWBox[T]) Read(f func(*T)) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	f(&r.t)
}

func (r *RWBox[T]) Write(f func(*T)) {
	r.lock.Lock()
	defer r.lock.Unlock()
	f(&r.t)
}

type InputKind uint8

const (
	KindRow InputKind = iota
	KindHeadings
	KindDevice
	KindError
)

type InputData struct {
	Kind InputKind
	Row
	Device        u3.ConfigInfo
	Headings      []string
	HeadingUnits  []sensors.Unit
	HeadingSeries []int
	Err           error
}

// Row carries one CSV record with cells parallel to the session's headings.
// Absent cells were empty in the source data.
type Row struct {
	StartTimestampNS, EndTimestampNS int64
	Cells                            []Value
}

type Sample struct {
	StartTimestampNS, EndTimestampNS int64
	Series                           int
	Value                            float64
	Unit                             sensors.Unit
}

type Mode uint8

const (
	ModeNone Mode = iota
	ModeSensing
	ModeReplaying
)

// A Recorder receives each completed reading from a live sensing session.
// Implementations forward readings to external systems and are expected to
// tolerate being invoked from a single background goroutine.
type Recorder interface {
	Record(ctx context.Context, device u3.ConfigInfo, r Reading) error
	Close() error
}

type Datasource struct {
	pool          *stream.MutationPool[string, Session]
	watcher       *fsnotify.Watcher
	appCtx        context.Context
	converter     *calibration.Converter
	seriesCounter atomic.Int32
	control       RWBox[io.WriteCloser]
	current       RWBox[Session]
	readings      chan recordedReading
}

type recordedReading struct {
	device  u3.ConfigInfo
	reading Reading
}

func NewDatasource(appCtx context.Context, mutator *stream.Mutator, converter *calibration.Converter, recorders ...Recorder) (*Datasource, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed creating file watcher: %w", err)
	}
	ds := &Datasource{
		pool:      stream.NewMutationPool[string, Session](mutator),
		watcher:   watcher,
		appCtx:    appCtx,
		converter: converter,
		readings:  make(chan recordedReading, 64),
	}
	go ds.runRecorders(recorders)
	return ds, nil
}

// runRecorders fans completed readings out to every configured recorder.
// Slow or failing recorders only cost log lines, never sampling latency.
func (d *Datasource) runRecorders(recorders []Recorder) {
	defer func() {
		for _, r := range recorders {
			if err := r.Close(); err != nil {
				log.Printf("failed closing recorder: %v", err)
			}
		}
	}()
	for {
		select {
		case <-d.appCtx.Done():
			return
		case rec := <-d.readings:
			for _, r := range recorders {
				if err := r.Record(d.appCtx, rec.device, rec.reading); err != nil {
					log.Printf("failed recording reading: %v", err)
				}
			}
		}
	}
}

func (d *Datasource) publishReading(device u3.ConfigInfo, r Reading) {
	select {
	case d.readings <- recordedReading{device: device, reading: r}:
	default:
		log.Printf("recorder backlog full, dropping reading")
	}
}

// SetFormula swaps the pressure conversion formula used for all future
// readings. Existing chart data is not recomputed.
func (d *Datasource) SetFormula(f *calibration.Formula) {
	d.converter.SetFormula(f)
}

func (d *Datasource) SessionStream(ctx context.Context) <-chan map[string]*stream.Mutation[Session] {
	return d.pool.Stream(ctx)
}

func (d *Datasource) getMutation(ctx context.Context, sessionID string) *stream.Mutation[Session] {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return (<-d.SessionStream(ctx))[sessionID]
}

func (d *Datasource) StreamSession(ctx context.Context, sessionID string) <-chan Session {
	return d.getMutation(ctx, sessionID).Stream(ctx)
}

// Status emits the state of the most recently started session. Session IDs
// are generated from UTC timestamps, so the newest session sorts last.
func (d *Datasource) Status(ctx context.Context) <-chan Session {
	return stream.Multiplex(d.pool.Stream(ctx), func(ctx context.Context, state string, mutations map[string]*stream.Mutation[Session]) (<-chan Session, string) {
		var newestID string
		var newest *stream.Mutation[Session]
		for id, m := range mutations {
			if id > newestID {
				newestID = id
				newest = m
			}
		}
		if newest == nil || newestID == state {
			return nil, state
		}
		state = newestID
		return newest.Stream(ctx), state
	})
}

// Current returns a snapshot of the most recently updated session, for use
// outside the UI event loop.
func (d *Datasource) Current() Session {
	var s Session
	d.current.Read(func(t *Session) {
		s = *t
	})
	return s
}

func generateSessionID() string {
	return strings.Replace(time.Now().UTC().Format("20060102150405.000000000"), ".", "", 1)
}

func sessionFileFor(sessionID string) string {
	return "labjacker-" + sessionID + ".csv"
}

func (d *Datasource) recordSession(sessionID string, mode Mode, files ...io.ReadCloser) *stream.Mutation[Session] {
	box, _ := stream.Mutate(d.pool, sessionID, func(ctx context.Context) (values <-chan Session) {
		out := make(chan Session, 1)
		go func() {
			defer close(out)
			session := Session{
				ID:   sessionID,
				Data: &Dataset{},
				Mode: mode,
			}
			emit := func() {
				d.current.Write(func(t *Session) {
					*t = session
				})
				out <- session
			}
			// Emit our boxed dataset immediately.
			emit()

			rawInput := make(chan InputData, 1024)
			for _, file := range files {
				if f, ok := file.(interface{ Name() string }); ok {
					d.watcher.Add(f.Name())
				}
				go d.readSource(file, rawInput)
			}

			var sessionFile *os.File
			var sessionWriter *bufio.Writer
			var csvWriter *csv.Writer
			var err error
			if mode == ModeSensing {
				sessionFile, err = os.Create(sessionFileFor(sessionID))
				if err != nil {
					session.Err = err
					emit()
					return
				}
				sessionWriter = bufio.NewWriter(sessionFile)
				csvWriter = csv.NewWriter(sessionWriter)
			}
			flushAll := func() {
				if mode == ModeSensing {
					csvWriter.Flush()
					err := sessionWriter.Flush()
					err = errors.Join(err, sessionFile.Close())
					if err != nil {
						session.Err = err
						emit()
					}
				}
			}
			headings := []string{"sample start (ns)", "sample end (ns)"}
			// columns maps a channel name like "vdiff" or "fio4" to its
			// index within each Row's cells.
			columns := map[string]int{}
			pressureSeriesID := 0
			for {
				select {
				case <-ctx.Done():
					flushAll()
					return
				case input := <-rawInput:
					switch input.Kind {
					case KindError:
						session.Err = input.Err
					case KindDevice:
						session.Device = input.Device
						session.HasDevice = true
					case KindHeadings:
						datasetHeadings := make([]string, 0, len(input.Headings)+1)
						datasetUnits := make([]sensors.Unit, 0, len(input.Headings)+1)
						datasetSeries := make([]int, 0, len(input.Headings)+1)
						for i, heading := range input.Headings {
							headings = append(headings, heading)
							name, unit := splitHeading(heading)
							columns[name] = i
							if unit != sensors.State && name != "pressure" {
								datasetHeadings = append(datasetHeadings, heading)
								datasetUnits = append(datasetUnits, unit)
								datasetSeries = append(datasetSeries, input.HeadingSeries[i])
							}
						}
						// Pressure is always a computed series, even when
						// replaying a trace that recorded it.
						pressureSeriesID = int(d.seriesCounter.Add(1))
						datasetHeadings = append(datasetHeadings, "pressure (psig)")
						datasetUnits = append(datasetUnits, sensors.PSI)
						datasetSeries = append(datasetSeries, pressureSeriesID)
						session.Data.SetHeadings(datasetHeadings, datasetUnits, datasetSeries)
						if mode == ModeSensing {
							if session.HasDevice {
								fmt.Fprintf(sessionWriter, "# device %s serial %d firmware %s hardware %s\n",
									session.Device.DeviceName, session.Device.SerialNumber,
									session.Device.FirmwareVersion, session.Device.HardwareVersion)
							}
							record := append(append([]string{}, headings...), "pressure (psig)")
							if err := csvWriter.Write(record); err != nil {
								session.Err = err
								emit()
								return
							}
						}
					case KindRow:
						reading, readErr := d.assembleReading(input.Row, columns)
						session.Reading = reading
						session.ReadErr = readErr
						if cerr := d.converter.Err(); cerr != nil {
							session.Err = cerr
						}
						for i, cell := range input.Cells {
							if !cell.OK {
								continue
							}
							name, unit := splitHeading(input.Headings[i])
							if unit == sensors.State || name == "pressure" {
								continue
							}
							session.Data.Insert(Sample{
								StartTimestampNS: input.StartTimestampNS,
								EndTimestampNS:   input.EndTimestampNS,
								Series:           input.HeadingSeries[i],
								Value:            cell.F,
								Unit:             unit,
							})
						}
						if reading.Pressure.OK {
							session.Data.Insert(Sample{
								StartTimestampNS: input.StartTimestampNS,
								EndTimestampNS:   input.EndTimestampNS,
								Series:           pressureSeriesID,
								Value:            reading.Pressure.F,
								Unit:             sensors.PSI,
							})
						}
						if mode == ModeSensing {
							record := make([]string, 0, len(headings)+1)
							record = append(record,
								strconv.FormatInt(input.StartTimestampNS, 10),
								strconv.FormatInt(input.EndTimestampNS, 10))
							for _, cell := range input.Cells {
								if cell.OK {
									record = append(record, strconv.FormatFloat(cell.F, 'f', -1, 64))
								} else {
									record = append(record, "")
								}
							}
							if reading.Pressure.OK {
								record = append(record, strconv.FormatFloat(reading.Pressure.F, 'f', -1, 64))
							} else {
								record = append(record, "")
							}
							if err := csvWriter.Write(record); err != nil {
								session.Err = err
								emit()
								return
							}
							csvWriter.Flush()
							d.publishReading(session.Device, reading)
						}
					}
					emit()
				}
			}
		}()
		return out
	})
	return box
}

// assembleReading builds a Reading from one parsed row. The returned string
// describes any channels that failed to read, and is empty for complete rows.
func (d *Datasource) assembleReading(row Row, columns map[string]int) (Reading, string) {
	cell := func(name string) Value {
		idx, ok := columns[name]
		if !ok || idx >= len(row.Cells) {
			return Value{}
		}
		return row.Cells[idx]
	}
	r := Reading{
		StartTimestampNS: row.StartTimestampNS,
		EndTimestampNS:   row.EndTimestampNS,
		Temperature:      cell("temperature"),
		AIN0:             cell("ain0"),
		AIN1:             cell("ain1"),
		VDiff:            cell("vdiff"),
	}
	var failed []string
	for name, v := range map[string]Value{
		"temperature": r.Temperature,
		"ain0":        r.AIN0,
		"ain1":        r.AIN1,
		"vdiff":       r.VDiff,
	} {
		if _, present := columns[name]; present && !v.OK {
			failed = append(failed, name)
		}
	}
	for fio := u3.FirstValveFIO; fio <= u3.LastValveFIO; fio++ {
		r.Valves[fio-u3.FirstValveFIO] = cell("fio" + strconv.Itoa(fio))
	}
	vd := r.VDiff
	if !vd.OK && r.AIN0.OK && r.AIN1.OK {
		vd = Value{F: r.AIN1.F - r.AIN0.F, OK: true}
	}
	if vd.OK {
		p, err := d.converter.Convert(vd.F)
		if err == nil {
			r.Pressure = Value{F: p, OK: true}
		}
	}
	var readErr string
	if len(failed) > 0 {
		sort.Strings(failed)
		readErr = "failed reading channels: " + strings.Join(failed, ", ")
	}
	return r, readErr
}

// splitHeading separates a CSV heading like "ain0 (V)" into its channel name
// and unit. Headings without a unit suffix are digital line states.
func splitHeading(heading string) (name string, unit sensors.Unit) {
	name, suffix, found := strings.Cut(heading, " (")
	if !found {
		return strings.TrimSpace(heading), sensors.State
	}
	switch strings.TrimSuffix(suffix, ")") {
	case "V":
		unit = sensors.Volts
	case "degC":
		unit = sensors.Celsius
	case "psig":
		unit = sensors.PSI
	default:
		unit = sensors.Unknown
	}
	return strings.TrimSpace(name), unit
}

func (d *Datasource) LoadFromFile(expl *explorer.Explorer) (string, error) {
	file, err := expl.ChooseFile()
	if err != nil {
		return "", err
	}
	return d.LoadFromStream(ModeReplaying, file), nil
}

func (d *Datasource) LoadFromStream(mode Mode, files ...io.ReadCloser) string {
	id := generateSessionID()
	return d.LoadFromStreamWithID(id, mode, files...)
}

func (d *Datasource) LoadFromStreamWithID(sessionID string, mode Mode, files ...io.ReadCloser) string {
	d.recordSession(sessionID, mode, files...)
	return sessionID
}

// LaunchSensors starts the sampler child process and begins a live sensing
// session fed by its output. The child's stdin is retained so that valve
// commands can be forwarded to it.
func (d *Datasource) LaunchSensors(simulated bool) (string, error) {
	traceReader, control, err := launchSensors(d.appCtx, simulated)
	if err != nil {
		return "", err
	}
	d.control.Write(func(w *io.WriteCloser) {
		if *w != nil {
			(*w).Close()
		}
		*w = control
	})
	id := generateSessionID()
	d.recordSession(id, ModeSensing, traceReader)
	return id, nil
}

// ToggleValve asks the sampler process to flip the valve driven by the given
// FIO line. The new state arrives through the data stream like any other
// reading.
func (d *Datasource) ToggleValve(fio int) error {
	if fio < u3.FirstValveFIO || fio > u3.LastValveFIO {
		return fmt.Errorf("no valve on FIO%d", fio)
	}
	return d.sendCommand(fmt.Sprintf("toggle %d\n", fio))
}

// SetValve asks the sampler process to drive the valve on the given FIO line
// to a specific state.
func (d *Datasource) SetValve(fio int, closed bool) error {
	if fio < u3.FirstValveFIO || fio > u3.LastValveFIO {
		return fmt.Errorf("no valve on FIO%d", fio)
	}
	state := 0
	if closed {
		state = 1
	}
	return d.sendCommand(fmt.Sprintf("set %d %d\n", fio, state))
}

func (d *Datasource) sendCommand(cmd string) error {
	var err error
	d.control.Read(func(w *io.WriteCloser) {
		if *w == nil {
			err = fmt.Errorf("no live sensing session")
			return
		}
		_, err = io.WriteString(*w, cmd)
	})
	if err != nil {
		return fmt.Errorf("failed sending valve command: %w", err)
	}
	return nil
}

// procReader reads a child process's stdout and folds the child's exit
// status into the end-of-stream error, so a sampler that dies at startup
// surfaces as a session error instead of a silent empty stream. It also
// reaps the child once the stream is finished with.
type procReader struct {
	pipe io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
	werr error
}

func (p *procReader) waitErr() error {
	p.once.Do(func() {
		p.werr = p.cmd.Wait()
	})
	return p.werr
}

func (p *procReader) Read(b []byte) (int, error) {
	n, err := p.pipe.Read(b)
	if errors.Is(err, io.EOF) {
		if werr := p.waitErr(); werr != nil {
			err = fmt.Errorf("sensor process exited: %w", werr)
		}
	}
	return n, err
}

func (p *procReader) Close() error {
	err := p.pipe.Close()
	go p.waitErr()
	return err
}

func runSensorsWithName(ctx context.Context, exeName string, simulated bool) (io.ReadCloser, io.WriteCloser, error) {
	var args []string
	if simulated {
		args = append(args, "-sim")
	}
	cmd := exec.CommandContext(ctx, exeName, args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed acquiring stdout pipe: %w", err)
	}
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed acquiring stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return &procReader{pipe: out, cmd: cmd}, in, nil
}

func launchSensors(ctx context.Context, simulated bool) (io.ReadCloser, io.WriteCloser, error) {
	const sensorExeName = "labjacker-sensors"
	execPath, err := os.Executable()
	if err == nil {
		sensorExe := filepath.Join(filepath.Dir(execPath), sensorExeName)
		if runtime.GOOS == "windows" {
			sensorExe += ".exe"
		}
		log.Printf("Looking for %q", sensorExe)
		output, control, err := runSensorsWithName(ctx, sensorExe, simulated)
		if err == nil {
			return output, control, nil
		}
	}

	log.Printf("Searching path for sensors")
	sensorExe, err := exec.LookPath(sensorExeName)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to locate %q in $PATH: %w", sensorExeName, err)
	}

	output, control, err := runSensorsWithName(ctx, sensorExe, simulated)
	if err != nil {
		return nil, nil, fmt.Errorf("failed launching %q: %w", sensorExe, err)
	}

	return output, control, nil
}

func (d *Datasource) readSource(source io.Reader, inputChan chan InputData) {
	fail := func(err error) {
		log.Printf("failed reading sensor data: %v", err)
		inputChan <- InputData{Kind: KindError, Err: err}
	}
	bufRead := NewLineReader(source)
	csvReader := csv.NewReader(bufRead)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	headings, err := csvReader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("sensor stream ended before any data: %w", err)
		}
		fail(err)
		return
	}
	if len(headings) == 1 && strings.HasPrefix(headings[0], "# device") {
		if cfg, err := parseDeviceLine(headings[0]); err != nil {
			log.Printf("failed parsing device identity: %v", err)
		} else {
			inputChan <- InputData{Kind: KindDevice, Device: cfg}
		}
		headings, err = csvReader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("sensor stream ended before any data: %w", err)
			}
			fail(err)
			return
		}
	}
	if len(headings) < 3 {
		fail(fmt.Errorf("trace has no data columns"))
		return
	}
	channelHeadings := make([]string, 0, len(headings)-2)
	headingUnits := make([]sensors.Unit, 0, len(headings)-2)
	headingSeries := make([]int, 0, len(headings)-2)
	for _, heading := range headings[2:] {
		heading = strings.TrimSpace(heading)
		_, unit := splitHeading(heading)
		channelHeadings = append(channelHeadings, heading)
		headingUnits = append(headingUnits, unit)
		headingSeries = append(headingSeries, int(d.seriesCounter.Add(1)))
	}
	inputChan <- InputData{
		Kind:          KindHeadings,
		Headings:      channelHeadings,
		HeadingUnits:  headingUnits,
		HeadingSeries: headingSeries,
	}
	// Continously parse the CSV data and send it on the channel.
readLoop:
	for {
		rec, err := csvReader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				for ev := range d.watcher.Events {
					if ev.Op == fsnotify.Write {
						continue readLoop
					}
				}
			}
			fail(err)
			return
		}
		if len(rec) == 1 && strings.HasPrefix(rec[0], "#") {
			continue
		}
		startNs, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			log.Printf("failed parsing timestamp: %v", err)
			continue
		}
		endNs, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			log.Printf("failed parsing timestamp: %v", err)
			continue
		}
		cells := make([]Value, len(channelHeadings))
		for i := range channelHeadings {
			if i+2 >= len(rec) {
				break
			}
			cell := strings.TrimSpace(rec[i+2])
			if len(cell) < 1 {
				// An empty cell marks a failed channel read.
				continue
			}
			data, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				log.Printf("failed parsing data[%d]=%q: %v", i, cell, err)
				continue
			}
			cells[i] = Value{F: data, OK: true}
		}
		inputChan <- InputData{
			Kind: KindRow,
			Row: Row{
				StartTimestampNS: startNs,
				EndTimestampNS:   endNs,
				Cells:            cells,
			},
			Headings:      channelHeadings,
			HeadingUnits:  headingUnits,
			HeadingSeries: headingSeries,
		}
	}
}

// parseDeviceLine decodes the identity comment emitted ahead of the CSV
// header, formatted as:
//
//	# device U3-HV serial 320048582 firmware 1.46 hardware 1.30
func parseDeviceLine(line string) (u3.ConfigInfo, error) {
	fields := strings.Fields(line)
	if len(fields) != 9 || fields[3] != "serial" || fields[5] != "firmware" || fields[7] != "hardware" {
		return u3.ConfigInfo{}, fmt.Errorf("malformed device line %q", line)
	}
	serial, err := strconv.ParseUint(fields[4], 10, 32)
	if err != nil {
		return u3.ConfigInfo{}, fmt.Errorf("malformed serial number %q: %w", fields[4], err)
	}
	return u3.ConfigInfo{
		DeviceName:      fields[2],
		SerialNumber:    uint32(serial),
		FirmwareVersion: fields[6],
		HardwareVersion: fields[8],
	}, nil
}
