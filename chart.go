package main

import (
	"image"
	"image/color"
	"strconv"
	"time"

	"gioui.org/f32"
	"gioui.org/layout"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/widget"
	"gioui.org/widget/material"
	"golang.org/x/exp/shiny/materialdesign/icons"

	"github.com/labjack-tools/labjacker/backend"
)

var pauseIcon = func() *widget.Icon {
	icon, _ := widget.NewIcon(icons.AVPause)
	return icon
}()

var playIcon = func() *widget.Icon {
	icon, _ := widget.NewIcon(icons.AVPlayArrow)
	return icon
}()

// chartedSeries picks which dataset series are drawn, in paint order.
var chartedSeries = []string{"vdiff (V)", "pressure (psig)"}

var colors = []color.NRGBA{
	{R: 0x2b, G: 0x7f, B: 0xa8, A: 0x90}, //#2b7fa8
	{R: 0xa4, G: 0x63, B: 0x3a, A: 0x90}, //#a4633a
	{R: 0x51, G: 0x85, B: 0x4d, A: 0x90}, //#51854d
	{R: 0x85, G: 0x76, B: 0x25, A: 0x90}, //#857625
}

// ChartData draws the recent history of the charted series as stacked
// translucent area charts sharing a single value axis.
type ChartData struct {
	pauseBtn widget.Clickable
	paused   bool
	// frozenMin and frozenMax pin the domain while paused.
	frozenMin, frozenMax int64
	// returnPath is a scratch slice used to build each data series' path.
	returnPath []f32.Point
}

func NewChart() *ChartData {
	return &ChartData{}
}

func (c *ChartData) Layout(gtx C, th *material.Theme, ds *backend.Dataset) D {
	if ds == nil || !ds.Initialized() {
		return layout.Center.Layout(gtx, material.Body1(th, "Waiting for data...").Layout)
	}
	series := make([]backend.DataSeries, 0, len(chartedSeries))
	for _, name := range chartedSeries {
		if s, ok := ds.ByName(name); ok && s.Initialized() {
			series = append(series, s)
		}
	}
	if len(series) == 0 {
		return layout.Center.Layout(gtx, material.Body1(th, "Waiting for data...").Layout)
	}
	domainMin, domainMax := ds.Domain()
	if c.pauseBtn.Clicked(gtx) {
		c.paused = !c.paused
		if c.paused {
			c.frozenMin, c.frozenMax = domainMin, domainMax
		}
	}
	if c.paused {
		domainMin, domainMax = c.frozenMin, c.frozenMax
	}
	domainInterval := float32(domainMax - domainMin)
	if domainInterval == 0 {
		domainInterval = 1
	}
	rangeMin, rangeMax := series[0].ValueRange()
	for _, s := range series[1:] {
		sMin, sMax := s.ValueRange()
		rangeMin = min(sMin, rangeMin)
		rangeMax = max(sMax, rangeMax)
	}
	rangeInterval := float32(rangeMax - rangeMin)
	if rangeInterval == 0 {
		rangeInterval = 1
	}

	minRangeLabel := material.Body2(th, strconv.FormatFloat(rangeMin, 'f', 3, 64))
	maxRangeLabel := material.Body2(th, strconv.FormatFloat(rangeMax, 'f', 3, 64))
	elapsed := time.Duration(domainMax - domainMin).Round(time.Second)
	domainLabel := material.Body2(th, "last "+elapsed.String())
	edgeLabel := "now"
	if c.paused {
		edgeLabel = "paused"
	}

	return layout.Flex{}.Layout(gtx,
		layout.Rigid(func(gtx C) D {
			return layout.Flex{Axis: layout.Vertical, Spacing: layout.SpaceBetween}.Layout(gtx,
				layout.Rigid(maxRangeLabel.Layout),
				layout.Flexed(1, func(gtx C) D {
					return D{Size: gtx.Constraints.Min}
				}),
				layout.Rigid(minRangeLabel.Layout),
			)
		}),
		layout.Flexed(1, func(gtx C) D {
			return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
				layout.Rigid(func(gtx C) D {
					children := make([]layout.FlexChild, 0, len(series)*2+1)
					for i, s := range series {
						l := material.Body2(th, s.Name())
						l.Color = colors[i%len(colors)]
						l.Color.A = 0xff
						children = append(children, layout.Rigid(l.Layout))
						children = append(children, layout.Rigid(layout.Spacer{Width: 8}.Layout))
					}
					children = append(children, layout.Flexed(1, func(gtx C) D {
						return layout.E.Layout(gtx, func(gtx C) D {
							icon := pauseIcon
							if c.paused {
								icon = playIcon
							}
							btn := material.IconButton(th, &c.pauseBtn, icon, "pause")
							btn.Size = 16
							btn.Inset = layout.UniformInset(2)
							return btn.Layout(gtx)
						})
					}))
					return layout.Flex{Alignment: layout.Middle}.Layout(gtx, children...)
				}),
				layout.Flexed(1, func(gtx C) D {
					for i, s := range series {
						c.layoutSeriesArea(gtx, s, domainMin, domainInterval, rangeMin, rangeInterval, colors[i%len(colors)])
					}
					return D{Size: gtx.Constraints.Max}
				}),
				layout.Rigid(func(gtx C) D {
					return layout.Flex{Spacing: layout.SpaceBetween}.Layout(gtx,
						layout.Rigid(domainLabel.Layout),
						layout.Rigid(material.Body2(th, edgeLabel).Layout),
					)
				}),
			)
		}),
	)
}

// layoutSeriesArea fills the region under a series' curve. The curve is
// resampled into one mean value per horizontal slice so that dense data
// does not emit a path segment per sample.
func (c *ChartData) layoutSeriesArea(gtx C, s backend.DataSeries, domainMin int64, domainInterval float32, rangeMin float64, rangeInterval float32, fill color.NRGBA) {
	maxX := gtx.Constraints.Max.X
	maxY := gtx.Constraints.Max.Y
	sliceWidth := gtx.Dp(4)
	if sliceWidth < 1 {
		sliceWidth = 1
	}
	nsPerSlice := int64(float32(sliceWidth) / float32(maxX) * domainInterval)
	if nsPerSlice < 1 {
		nsPerSlice = 1
	}
	c.returnPath = c.returnPath[:0]
	for x := 0; x < maxX; x += sliceWidth {
		sliceStart := domainMin + int64(float32(x)/float32(maxX)*domainInterval)
		_, mean, _, ok := s.ValuesBetween(sliceStart, sliceStart+nsPerSlice)
		if !ok {
			continue
		}
		y := (1 - (float32(mean-rangeMin) / rangeInterval)) * float32(maxY)
		c.returnPath = append(c.returnPath,
			f32.Pt(float32(x), y),
			f32.Pt(float32(x+sliceWidth), y),
		)
	}
	if len(c.returnPath) < 2 {
		return
	}
	var p clip.Path
	p.Begin(gtx.Ops)
	p.MoveTo(f32.Pt(c.returnPath[0].X, float32(maxY)))
	for _, pt := range c.returnPath {
		p.LineTo(pt)
	}
	p.LineTo(f32.Pt(c.returnPath[len(c.returnPath)-1].X, float32(maxY)))
	p.Close()
	defer clip.Rect(image.Rect(0, 0, maxX, maxY)).Push(gtx.Ops).Pop()
	stack := clip.Outline{Path: p.End()}.Op().Push(gtx.Ops)
	paint.Fill(gtx.Ops, fill)
	stack.Pop()
}
