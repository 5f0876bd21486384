package pipeline

import (
	"fabingest/internal/dispatch"
	"fabingest/internal/watcher"
	"fabingest/internal/workers"
)

// Status is a snapshot of pipeline activity.
type Status struct {
	Running      bool
	Roots        []string
	Pending      int
	Rules        int
	Uploads      int
	Classified   uint64
	Skipped      uint64
	CopyErrors   uint64
	Reloads      uint64
	Watch        watcher.Metrics
	ClassifyPool workers.Stats
	DispatchPool workers.Stats
	Plugins      []dispatch.PluginStats
}

// Status reports current activity. Dispatch bookkeeping survives a Stop
// until the next Start.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	r := p.run
	st := Status{
		Running: p.running,
		Rules:   len(p.engine.Rules()),
		Uploads: len(p.cfg.Uploads),
		Plugins: p.last,
	}
	p.mu.Unlock()

	st.Classified = p.classified.Load()
	st.Skipped = p.skipped.Load()
	st.CopyErrors = p.copyErrors.Load()
	st.Reloads = p.reloads.Load()
	if r == nil {
		return st
	}
	st.Roots = r.watch.Roots()
	st.Watch = r.watch.Metrics()
	st.Pending = r.debounce.PendingCount()
	if r.uploadDebounce != nil {
		st.Pending += r.uploadDebounce.PendingCount()
	}
	st.ClassifyPool = r.classify.Stats()
	st.DispatchPool = r.dispatch.Stats()
	st.Plugins = r.dispatcher.Stats()
	return st
}
