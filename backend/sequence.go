package backend

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"git.sr.ht/~gioverse/skel/stream"
	"github.com/labjack-tools/labjacker/u3"
)

const sequenceDateFormat = "2006-01-02 15:04:05"

// seqStep is one command in the valve sequence. Valve numbers are 1-4,
// mapping onto FIO4-7. A zero valve means the step only waits or logs.
type seqStep struct {
	valve    int
	wait     bool
	logState bool
	msg      string
}

// sequenceSteps returns the valve program. The same fixed step list runs
// every loop, toggling valves so that each step's message describes the
// transition it causes.
func sequenceSteps(stepInterval time.Duration) []seqStep {
	waitMsg := fmt.Sprintf("waiting for %v", stepInterval)
	return []seqStep{
		{msg: "sequence starting ...", logState: true},
		{valve: 2, msg: "opening valve 2"},
		{valve: 3, msg: "opening valve 3"},
		{valve: 4, msg: "opening valve 4"},
		{wait: true, msg: waitMsg},
		{valve: 2, msg: "closing valve 2", logState: true},
		{valve: 4, msg: "closing valve 4"},
		{valve: 1, msg: "opening valve 1"},
		{wait: true, msg: waitMsg},
		{valve: 1, msg: "closing valve 1", logState: true},
		{wait: true, msg: waitMsg},
		{valve: 2, msg: "opening valve 2", logState: true},
		{wait: true, msg: waitMsg},
		{valve: 4, msg: "opening valve 4", logState: true},
		{wait: true, msg: waitMsg},
		{valve: 2, msg: "closing valve 2", logState: true},
		{valve: 3, msg: "closing valve 3"},
		{valve: 4, msg: "closing valve 4"},
	}
}

// valveFIO maps a 1-based valve number to its FIO line.
func valveFIO(valve int) int {
	return valve + u3.FirstValveFIO - 1
}

type SequenceConfig struct {
	SampleName   string
	StepInterval time.Duration
	LoopCount    int
	LogPath      string
}

func (c SequenceConfig) validate() error {
	if c.LogPath == "" {
		return fmt.Errorf("no output file specified. not starting")
	}
	if c.SampleName == "" {
		return fmt.Errorf("no sample name specified. not starting")
	}
	if c.StepInterval <= 0 {
		return fmt.Errorf("no time step interval specified. not starting")
	}
	if c.LoopCount <= 0 {
		return fmt.Errorf("no loop count specified. not starting")
	}
	return nil
}

type SequenceData struct {
	Config   SequenceConfig
	Loop     int
	Messages []string
	Running  bool
	Done     bool
	Err      error
}

// Sequencer runs the valve sequence against the live sensing session. Only
// one sequence runs at a time.
type Sequencer struct {
	pool *stream.MutationPool[string, SequenceData]
	ds   *Datasource

	lock    sync.Mutex
	cancel  context.CancelFunc
	running int
}

func NewSequencer(mutator *stream.Mutator, ds *Datasource) *Sequencer {
	return &Sequencer{
		pool: stream.NewMutationPool[string, SequenceData](mutator),
		ds:   ds,
	}
}

// Running reports whether a sequence is currently executing. Manual valve
// control is locked out while this is true.
func (s *Sequencer) Running() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.running > 0
}

func (s *Sequencer) addRunning(delta int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.running += delta
}

// Stop cancels the running sequence, if any.
func (s *Sequencer) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// checkInitialState verifies that every valve is closed before the sequence
// starts moving gas around.
func checkInitialState(reading Reading) error {
	for fio := u3.FirstValveFIO; fio <= u3.LastValveFIO; fio++ {
		closed, known := reading.ValveClosed(fio)
		if !known || !closed {
			return fmt.Errorf("valve states do not match required initial state: valve %d must be Closed", fio-u3.FirstValveFIO+1)
		}
	}
	return nil
}

// ensureLogHeader writes the state log header if the file is new or empty.
func ensureLogHeader(path string) error {
	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString("date,sample_name,pressure,voltage_0,voltage_1,voltage_diff," +
		"valve_state_1,valve_state_2,valve_state_3,valve_state_4\n")
	return err
}

func formatLogCell(v Value) string {
	if !v.OK {
		return ""
	}
	return strconv.FormatFloat(v.F, 'f', 5, 64)
}

func formatValveCell(reading Reading, fio int) string {
	closed, known := reading.ValveClosed(fio)
	if !known {
		return ""
	}
	if closed {
		return "Closed"
	}
	return "Open"
}

// appendLogState writes one row of device state to the sequence log.
func appendLogState(path, timestamp, sampleName string, reading Reading) error {
	if err := ensureLogHeader(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s,%s,%s,%s,%s,%s,%s,%s,%s,%s\n",
		timestamp,
		sampleName,
		formatLogCell(reading.Pressure),
		formatLogCell(reading.AIN0),
		formatLogCell(reading.AIN1),
		formatLogCell(reading.VDiff),
		formatValveCell(reading, 4),
		formatValveCell(reading, 5),
		formatValveCell(reading, 6),
		formatValveCell(reading, 7),
	)
	return err
}

// Run starts the sequence with the given configuration. The returned
// mutation streams progress updates; isNew is false if a sequence with the
// same sample name is already tracked by the pool.
func (s *Sequencer) Run(cfg SequenceConfig) (mutation *stream.Mutation[SequenceData], isNew bool) {
	return stream.Mutate(s.pool, cfg.SampleName, func(ctx context.Context) (values <-chan SequenceData) {
		ctx, cancel := context.WithCancel(ctx)
		s.lock.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.cancel = cancel
		s.running++
		s.lock.Unlock()

		out := make(chan SequenceData)
		go func() {
			defer close(out)
			defer s.addRunning(-1)
			currentData := SequenceData{
				Config:  cfg,
				Running: true,
			}
			emit := func() bool {
				select {
				case out <- currentData:
					return true
				case <-ctx.Done():
					return false
				}
			}
			logMsg := func(msg string) bool {
				currentData.Messages = append(currentData.Messages,
					fmt.Sprintf("%s : %s", time.Now().Format(sequenceDateFormat), msg))
				return emit()
			}
			fail := func(err error) {
				currentData.Err = err
				currentData.Running = false
				logMsg(err.Error())
			}
			if err := cfg.validate(); err != nil {
				fail(err)
				return
			}
			session := s.ds.Current()
			if session.Mode != ModeSensing {
				fail(fmt.Errorf("no live sensing session. not starting"))
				return
			}
			if err := checkInitialState(session.Reading); err != nil {
				fail(err)
				return
			}
			steps := sequenceSteps(cfg.StepInterval)
			timer := time.NewTimer(cfg.StepInterval)
			if !timer.Stop() {
				<-timer.C
			}
			for loop := 1; loop <= cfg.LoopCount; loop++ {
				currentData.Loop = loop
				if !logMsg(fmt.Sprintf("starting sequence loop %d of %d", loop, cfg.LoopCount)) {
					return
				}
				for _, step := range steps {
					timestamp := time.Now().Format(sequenceDateFormat)
					if !logMsg(step.msg) {
						return
					}
					if step.logState {
						// Log the state before changing anything.
						if err := appendLogState(cfg.LogPath, timestamp, cfg.SampleName, s.ds.Current().Reading); err != nil {
							fail(fmt.Errorf("failed writing state log: %w", err))
							return
						}
					}
					if step.valve != 0 {
						if err := s.ds.ToggleValve(valveFIO(step.valve)); err != nil {
							fail(err)
							return
						}
					}
					if step.wait {
						timer.Reset(cfg.StepInterval)
						select {
						case <-timer.C:
						case <-ctx.Done():
							timer.Stop()
							return
						}
					}
				}
			}
			currentData.Running = false
			currentData.Done = true
			logMsg("finished")
		}()
		return out
	})
}
