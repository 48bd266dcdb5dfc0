package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"cogcomfy/internal/comfyui"
)

// progressReporter renders one bar per sampling node.
type progressReporter struct {
	w    io.Writer
	bar  *progressbar.ProgressBar
	node string
}

func newProgressReporter(w io.Writer) *progressReporter {
	return &progressReporter{w: w}
}

func (r *progressReporter) handle(ev comfyui.Event) {
	switch ev.Type {
	case comfyui.MessageExecuting:
		r.finish()
		r.node = ev.Node
	case comfyui.MessageProgress:
		if ev.Max <= 0 {
			return
		}
		if r.bar == nil {
			r.bar = progressbar.NewOptions(ev.Max,
				progressbar.OptionSetWriter(r.w),
				progressbar.OptionSetDescription(fmt.Sprintf("node %s", r.node)),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = r.bar.Set(ev.Value)
	}
}

func (r *progressReporter) finish() {
	if r.bar == nil {
		return
	}
	_ = r.bar.Finish()
	r.bar = nil
}
