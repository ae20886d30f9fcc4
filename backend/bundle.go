package backend

import (
	"context"

	"gioui.org/app"
	"git.sr.ht/~gioverse/skel/stream"
	"github.com/labjack-tools/labjacker/calibration"
)

type WindowState struct {
	Bundle
	Controller *stream.Controller
}

func NewWindowState(ctx context.Context, bundle Bundle, win *app.Window) WindowState {
	return WindowState{
		Bundle:     bundle,
		Controller: stream.NewController(ctx, win.Invalidate),
	}
}

type Bundle struct {
	Datasource *Datasource
	Sequencer  *Sequencer
}

func NewBundle(appCtx context.Context, mutator *stream.Mutator, converter *calibration.Converter, recorders ...Recorder) (Bundle, error) {
	ds, err := NewDatasource(appCtx, mutator, converter, recorders...)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{
		Datasource: ds,
		Sequencer:  NewSequencer(mutator, ds),
	}, nil
}
