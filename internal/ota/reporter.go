package ota

// Reporter observes a session. OnProgress may be called any number of times
// with non-decreasing values in [0, 100]. At most one of OnComplete and
// OnFailed is called, once. A cancelled session calls neither.
//
// Calls are made through the session's executor (see WithExecutor) and
// should return quickly.
type Reporter interface {
	OnProgress(percent float64)
	OnComplete()
	OnFailed(reason string)
}

// ReporterFuncs adapts closures to Reporter. Nil fields are skipped.
type ReporterFuncs struct {
	Progress func(percent float64)
	Complete func()
	Failed   func(reason string)
}

func (r ReporterFuncs) OnProgress(percent float64) {
	if r.Progress != nil {
		r.Progress(percent)
	}
}

func (r ReporterFuncs) OnComplete() {
	if r.Complete != nil {
		r.Complete()
	}
}

func (r ReporterFuncs) OnFailed(reason string) {
	if r.Failed != nil {
		r.Failed(reason)
	}
}

type nopReporter struct{}

func (nopReporter) OnProgress(float64) {}
func (nopReporter) OnComplete()        {}
func (nopReporter) OnFailed(string)    {}

// Executor runs reporter callbacks. The default runs them inline on the
// session goroutine.
type Executor func(fn func())

func inline(fn func()) { fn() }
