package main

import (
	"fmt"
	"log"
	"strconv"

	"gioui.org/layout"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"github.com/labjack-tools/labjacker/backend"
	"github.com/labjack-tools/labjacker/u3"
)

// Monitor lays out the live device status, the valve controls, and the
// pressure history chart.
type Monitor struct {
	ws        backend.WindowState
	valveBtns [4]widget.Clickable
	chart     *ChartData
}

func NewMonitor(ws backend.WindowState) *Monitor {
	return &Monitor{
		ws:    ws,
		chart: NewChart(),
	}
}

// absent is displayed wherever a reading is unavailable.
const absent = "--"

func formatValue(v backend.Value, format string) string {
	if !v.OK {
		return absent
	}
	return fmt.Sprintf(format, v.F)
}

func (m *Monitor) Update(gtx C, status backend.Session) {
	seqRunning := m.ws.Bundle.Sequencer.Running()
	for i := range m.valveBtns {
		if m.valveBtns[i].Clicked(gtx) {
			if status.Mode != backend.ModeSensing || seqRunning {
				continue
			}
			fio := u3.FirstValveFIO + i
			if err := m.ws.Bundle.Datasource.ToggleValve(fio); err != nil {
				log.Printf("failed toggling valve on FIO%d: %v", fio, err)
			}
		}
	}
}

func (m *Monitor) layoutStatusRow(gtx C, th *material.Theme, label, value string) D {
	return layout.Flex{Spacing: layout.SpaceBetween}.Layout(gtx,
		layout.Rigid(material.Body1(th, label).Layout),
		layout.Rigid(material.Body1(th, value).Layout),
	)
}

func (m *Monitor) layoutStatus(gtx C, th *material.Theme, status backend.Session) D {
	r := status.Reading
	deviceName := absent
	serial := absent
	firmware := absent
	if status.HasDevice {
		deviceName = status.Device.DeviceName
		serial = strconv.FormatUint(uint64(status.Device.SerialNumber), 10)
		firmware = status.Device.FirmwareVersion
	}
	rows := []struct {
		label, value string
	}{
		{"Device Name", deviceName},
		{"Serial Number", serial},
		{"Firmware Version", firmware},
		{"Temperature", formatValue(r.Temperature, "%.2f °C")},
		{"Voltage AIN0", formatValue(r.AIN0, "%.5f V")},
		{"Voltage AIN1", formatValue(r.AIN1, "%.5f V")},
		{"Voltage Difference", formatValue(r.VDiff, "%.5f V")},
		{"Pressure", formatValue(r.Pressure, "%.5f psig")},
	}
	children := make([]layout.FlexChild, 0, len(rows)+1)
	children = append(children, layout.Rigid(material.H6(th, "U3 Status").Layout))
	for _, row := range rows {
		row := row
		children = append(children, layout.Rigid(func(gtx C) D {
			return m.layoutStatusRow(gtx, th, row.label, row.value)
		}))
	}
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx, children...)
}

func (m *Monitor) layoutValves(gtx C, th *material.Theme, status backend.Session) D {
	children := make([]layout.FlexChild, 0, 5)
	children = append(children, layout.Rigid(material.H6(th, "Valve Status").Layout))
	for i := range m.valveBtns {
		i := i
		fio := u3.FirstValveFIO + i
		state := absent
		if closed, known := status.Reading.ValveClosed(fio); known {
			if closed {
				state = "Closed"
			} else {
				state = "Open"
			}
		}
		children = append(children, layout.Rigid(func(gtx C) D {
			return layout.Flex{Spacing: layout.SpaceBetween, Alignment: layout.Middle}.Layout(gtx,
				layout.Rigid(material.Body1(th, fmt.Sprintf("Valve %d (FIO%d)", i+1, fio)).Layout),
				layout.Rigid(material.Body1(th, state).Layout),
				layout.Rigid(func(gtx C) D {
					if status.Mode != backend.ModeSensing || m.ws.Bundle.Sequencer.Running() {
						gtx = gtx.Disabled()
					}
					return material.Button(th, &m.valveBtns[i], "Toggle").Layout(gtx)
				}),
			)
		}))
	}
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx, children...)
}

func (m *Monitor) Layout(gtx C, th *material.Theme, status backend.Session) D {
	m.Update(gtx, status)
	inset := layout.UniformInset(4)
	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Rigid(func(gtx C) D {
			return inset.Layout(gtx, func(gtx C) D {
				return m.layoutStatus(gtx, th, status)
			})
		}),
		layout.Rigid(func(gtx C) D {
			return inset.Layout(gtx, func(gtx C) D {
				return m.layoutValves(gtx, th, status)
			})
		}),
		layout.Flexed(1, func(gtx C) D {
			return inset.Layout(gtx, func(gtx C) D {
				return m.chart.Layout(gtx, th, status.Data)
			})
		}),
	)
}
