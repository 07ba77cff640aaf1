package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/chaz8081/otaflash/internal/ota"
)

// barReporter draws session progress as a terminal progress bar.
type barReporter struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

var _ ota.Reporter = (*barReporter)(nil)

func newBarReporter(out io.Writer, name string) *barReporter {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Flashing "+name),
		progressbar.OptionShowCount(),
	)
	return &barReporter{out: out, bar: bar}
}

func (r *barReporter) OnProgress(percent float64) {
	_ = r.bar.Set(int(percent))
}

func (r *barReporter) OnComplete() {
	_ = r.bar.Finish()
	fmt.Fprintln(r.out, "\nPeripheral reported success.")
}

func (r *barReporter) OnFailed(reason string) {
	_ = r.bar.Exit()
	fmt.Fprintf(r.out, "\nUpdate failed: %s\n", reason)
}
