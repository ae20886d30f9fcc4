package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"gioui.org/layout"
	"gioui.org/widget"
	"gioui.org/widget/material"
	"gioui.org/x/component"
	"gioui.org/x/explorer"
	"git.sr.ht/~gioverse/skel/stream"

	"github.com/labjack-tools/labjacker/backend"
)

// SequencePanel collects the sequence parameters and displays progress
// messages while the valve sequence runs.
type SequencePanel struct {
	ws   backend.WindowState
	expl *explorer.Explorer

	sampleEditor   component.TextField
	intervalEditor component.TextField
	loopsEditor    component.TextField
	chooseFileBtn  widget.Clickable
	runBtn         widget.Clickable
	logPath        string
	paramErr       string
	messageList    widget.List

	seqStream *stream.Stream[backend.SequenceData]
	sd        backend.SequenceData
}

func NewSequencePanel(ws backend.WindowState, expl *explorer.Explorer) *SequencePanel {
	sp := &SequencePanel{
		ws:          ws,
		expl:        expl,
		messageList: widget.List{List: layout.List{Axis: layout.Vertical}},
	}
	sp.intervalEditor.SetText("30")
	sp.loopsEditor.SetText("1")
	return sp
}

// parseConfig validates the panel inputs into a sequence configuration.
func (sp *SequencePanel) parseConfig() (backend.SequenceConfig, string) {
	cfg := backend.SequenceConfig{
		SampleName: sp.sampleEditor.Text(),
		LogPath:    sp.logPath,
	}
	seconds, err := strconv.ParseFloat(sp.intervalEditor.Text(), 64)
	if err != nil || seconds <= 0 {
		return cfg, "step interval must be a positive number of seconds"
	}
	cfg.StepInterval = time.Duration(seconds * float64(time.Second))
	loops, err := strconv.Atoi(sp.loopsEditor.Text())
	if err != nil || loops <= 0 {
		return cfg, "loop count must be a positive whole number"
	}
	cfg.LoopCount = loops
	return cfg, ""
}

func (sp *SequencePanel) Update(gtx C, th *material.Theme, status backend.Session) {
	sp.sampleEditor.Update(gtx, th, "Sample Name")
	sp.intervalEditor.Update(gtx, th, "Step Interval (seconds)")
	sp.loopsEditor.Update(gtx, th, "Loop Count")
	if sp.chooseFileBtn.Clicked(gtx) {
		f, err := sp.expl.CreateFile("sequence-log.csv")
		if err != nil {
			log.Printf("failed browsing for log file: %v", err)
		} else {
			if osFile, ok := f.(*os.File); !ok {
				log.Printf("selected file of unexpected type: %T", f)
			} else {
				sp.logPath = osFile.Name()
				osFile.Close()
			}
		}
	}
	if data, isNew := sp.seqStream.ReadNew(gtx); isNew {
		sp.sd = data
	}
	if sp.runBtn.Clicked(gtx) {
		if sp.sd.Running {
			sp.ws.Bundle.Sequencer.Stop()
			sp.sd.Running = false
		} else {
			cfg, problem := sp.parseConfig()
			sp.paramErr = problem
			if problem == "" {
				sp.runSequence(cfg)
			}
		}
	}
}

func (sp *SequencePanel) runSequence(cfg backend.SequenceConfig) {
	mut, ok := sp.ws.Bundle.Sequencer.Run(cfg)
	if !ok {
		log.Printf("sequence for sample %q is already tracked", cfg.SampleName)
		return
	}
	sp.seqStream = stream.New(sp.ws.Controller, mut.Stream)
}

func (sp *SequencePanel) Layout(gtx C, th *material.Theme, status backend.Session) D {
	sp.Update(gtx, th, status)
	inset := layout.UniformInset(2)
	logLabel := "Log File: none selected"
	if sp.logPath != "" {
		logLabel = "Log File: " + sp.logPath
	}
	return layout.Flex{
		Axis: layout.Vertical,
	}.Layout(gtx,
		layout.Rigid(func(gtx C) D {
			return inset.Layout(gtx, func(gtx C) D {
				return sp.sampleEditor.Layout(gtx, th, "Sample Name")
			})
		}),
		layout.Rigid(func(gtx C) D {
			return layout.Flex{}.Layout(gtx,
				layout.Flexed(1, func(gtx C) D {
					return inset.Layout(gtx, func(gtx C) D {
						return sp.intervalEditor.Layout(gtx, th, "Step Interval (seconds)")
					})
				}),
				layout.Flexed(1, func(gtx C) D {
					return inset.Layout(gtx, func(gtx C) D {
						return sp.loopsEditor.Layout(gtx, th, "Loop Count")
					})
				}),
			)
		}),
		layout.Rigid(func(gtx C) D {
			return layout.Flex{Alignment: layout.Middle}.Layout(gtx,
				layout.Flexed(1, func(gtx C) D {
					return inset.Layout(gtx, material.Body1(th, logLabel).Layout)
				}),
				layout.Rigid(func(gtx C) D {
					return inset.Layout(gtx, material.Button(th, &sp.chooseFileBtn, "Browse").Layout)
				}),
			)
		}),
		layout.Rigid(func(gtx C) D {
			return layout.Flex{Alignment: layout.Baseline}.Layout(gtx,
				layout.Flexed(1, func(gtx C) D {
					return inset.Layout(gtx, func(gtx C) D {
						label := "Run Sequence"
						if sp.sd.Running {
							label = "Stop Sequence"
						}
						btn := material.Button(th, &sp.runBtn, label)
						if status.Mode != backend.ModeSensing {
							gtx = gtx.Disabled()
						}
						return btn.Layout(gtx)
					})
				}),
				layout.Flexed(1, func(gtx C) D {
					return inset.Layout(gtx, func(gtx C) D {
						switch {
						case sp.paramErr != "":
							return material.Body1(th, sp.paramErr).Layout(gtx)
						case sp.sd.Err != nil:
							return material.Body1(th, sp.sd.Err.Error()).Layout(gtx)
						case sp.sd.Running:
							return material.Body1(th, "Running loop "+strconv.Itoa(sp.sd.Loop)).Layout(gtx)
						case sp.sd.Done:
							return material.Body1(th, "Done").Layout(gtx)
						default:
							return material.Body1(th, "Not started").Layout(gtx)
						}
					})
				}),
			)
		}),
		layout.Flexed(1, func(gtx C) D {
			return material.List(th, &sp.messageList).Layout(gtx, len(sp.sd.Messages), func(gtx C, index int) D {
				return inset.Layout(gtx, material.Body2(th, sp.sd.Messages[index]).Layout)
			})
		}),
	)
}
