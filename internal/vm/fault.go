package vm

import "github.com/hctung57/tinyVM/internal/hw"

// HandleFault resolves a page fault at the (not necessarily aligned)
// address va. The supplemental entry classifies the page; exactly one of
// the three loaders materializes it. The return value is the
// success-or-kill signal the exception layer acts on: false means the
// process has no business touching va.
//
// A fault on a page that is already resident resolves trivially — another
// thread of the process can win the race between the fault and the lock.
func (p *Process) HandleFault(va uintptr) bool {
	p.k.frameMu.Lock()
	defer p.k.frameMu.Unlock()

	pg := p.pages[hw.PageRound(va)]
	if pg == nil {
		return false
	}
	p.k.faults++

	switch {
	case pg.loaded:
		return true
	case !pg.valid:
		return p.loadSwap(pg)
	case pg.file != nil:
		return p.loadFile(pg)
	default:
		return p.loadZero(pg)
	}
}
