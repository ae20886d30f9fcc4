package main

import (
	"image"
	"image/color"

	"gioui.org/font/gofont"
	"gioui.org/layout"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/text"
	"gioui.org/widget"
	"gioui.org/widget/material"
	"gioui.org/x/explorer"
	"git.sr.ht/~gioverse/skel/stream"

	"github.com/labjack-tools/labjacker/backend"
)

type (
	C = layout.Context
	D = layout.Dimensions
)

const (
	tabMonitor  = "monitor"
	tabSequence = "sequence"
)

// UI is responsible for holding the state of and drawing the top-level UI.
type UI struct {
	ws   backend.WindowState
	expl *explorer.Explorer

	monitor      *Monitor
	sequence     *SequencePanel
	tab          widget.Enum
	launchBtn    widget.Clickable
	launchSimBtn widget.Clickable
	explorerBtn  widget.Clickable
	launching    bool
	sensorsErr   string

	th           *material.Theme
	statusStream *stream.Stream[backend.Session]
	status       backend.Session
}

func NewUI(ws backend.WindowState, expl *explorer.Explorer) *UI {
	th := material.NewTheme()
	th.Shaper = text.NewShaper(text.WithCollection(gofont.Collection()), text.NoSystemFonts())
	ui := &UI{
		ws:           ws,
		th:           th,
		expl:         expl,
		tab:          widget.Enum{Value: tabMonitor},
		statusStream: stream.New(ws.Controller, ws.Bundle.Datasource.Status),
	}
	ui.monitor = NewMonitor(ws)
	ui.sequence = NewSequencePanel(ws, expl)
	return ui
}

// Update the state of the UI and generate events.
func (ui *UI) Update(gtx C) {
	ui.statusStream.ReadInto(gtx, &ui.status, backend.Session{})
	ui.tab.Update(gtx)
	switch {
	case ui.status.Err != nil:
		ui.sensorsErr = ui.status.Err.Error()
	case ui.status.ReadErr != "":
		ui.sensorsErr = ui.status.ReadErr
	default:
		ui.sensorsErr = ""
	}
	if !ui.launching && ui.launchBtn.Clicked(gtx) {
		ui.launching = true
		if _, err := ui.ws.Bundle.Datasource.LaunchSensors(false); err != nil {
			ui.sensorsErr = err.Error()
			ui.launching = false
		}
	}
	if !ui.launching && ui.launchSimBtn.Clicked(gtx) {
		ui.launching = true
		if _, err := ui.ws.Bundle.Datasource.LaunchSensors(true); err != nil {
			ui.sensorsErr = err.Error()
			ui.launching = false
		}
	}
	if ui.explorerBtn.Clicked(gtx) {
		if _, err := ui.ws.Bundle.Datasource.LoadFromFile(ui.expl); err != nil {
			ui.sensorsErr = err.Error()
		}
	}
}

type TabStyle struct {
	state  *widget.Enum
	label  material.LabelStyle
	border widget.Border
	inset  layout.Inset
	value  string
	fill   color.NRGBA
}

func Tab(th *material.Theme, state *widget.Enum, value, display string) TabStyle {
	selected := state.Value == value
	ts := TabStyle{
		state: state,
		label: material.Body1(th, display),
		inset: layout.UniformInset(2),
		border: widget.Border{
			Width: 2,
			Color: th.ContrastBg,
		},
		value: value,
	}
	ts.label.Alignment = text.Middle
	if selected {
		ts.label.Color = th.ContrastFg
		ts.fill = th.ContrastBg
	}
	return ts
}

func (t TabStyle) Layout(gtx C) D {
	return t.inset.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return t.border.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
			return t.inset.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				return t.state.Layout(gtx, t.value, func(gtx layout.Context) layout.Dimensions {
					return layout.Background{}.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
						paint.FillShape(gtx.Ops, t.fill, clip.Rect{Max: gtx.Constraints.Min}.Op())
						return D{Size: gtx.Constraints.Min}
					}, t.label.Layout)
				})
			})
		})
	})
}

func (ui *UI) layoutMainArea(gtx C) D {
	return layout.Flex{
		Axis: layout.Vertical,
	}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return layout.Flex{}.Layout(gtx,
				layout.Flexed(1, Tab(ui.th, &ui.tab, tabMonitor, "Monitor").Layout),
				layout.Flexed(1, Tab(ui.th, &ui.tab, tabSequence, "Sequence").Layout),
			)
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			if len(ui.sensorsErr) == 0 {
				return D{}
			}
			l := material.Body1(ui.th, ui.sensorsErr)
			l.Color = color.NRGBA{R: 150, A: 255}
			return l.Layout(gtx)
		}),
		layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
			if ui.tab.Value == tabMonitor {
				return ui.monitor.Layout(gtx, ui.th, ui.status)
			} else {
				return ui.sequence.Layout(gtx, ui.th, ui.status)
			}
		}),
	)
}

func (ui *UI) layoutStartScreen(gtx C) D {
	l := material.Body1(ui.th, "No data yet.")
	return layout.Flex{
		Axis:      layout.Vertical,
		Alignment: layout.Middle,
		Spacing:   layout.SpaceAround,
	}.Layout(gtx,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			gtx.Constraints.Min = image.Point{}
			return l.Layout(gtx)
		}),
		layout.Rigid(func(gtx C) D {
			gtx.Constraints.Min = image.Point{}
			if ui.launching {
				gtx = gtx.Disabled()
			}
			return material.Button(ui.th, &ui.launchBtn, "Launch Sensors").Layout(gtx)
		}),
		layout.Rigid(func(gtx C) D {
			gtx.Constraints.Min = image.Point{}
			if ui.launching {
				gtx = gtx.Disabled()
			}
			return material.Button(ui.th, &ui.launchSimBtn, "Launch Simulated Device").Layout(gtx)
		}),
		layout.Rigid(func(gtx C) D {
			gtx.Constraints.Min = image.Point{}
			return material.Button(ui.th, &ui.explorerBtn, "Open Existing Trace").Layout(gtx)
		}),
		layout.Rigid(func(gtx C) D {
			gtx.Constraints.Min = image.Point{}
			return material.Body2(ui.th, ui.sensorsErr).Layout(gtx)
		}),
	)
}

// Layout the UI into the provided context.
func (ui *UI) Layout(gtx C) D {
	ui.Update(gtx)
	if ui.status.Mode != backend.ModeNone {
		return ui.layoutMainArea(gtx)
	}
	return ui.layoutStartScreen(gtx)
}
