package extractor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/drummonds/pagextract/engine/pdfrenderer"
)

// fakeBackend records every call made by the scheduler. Pages render
// instantly unless gate is set, in which case each render waits for it.
type fakeBackend struct {
	mu sync.Mutex

	pages   int
	initErr error

	failCloneContext  map[int]bool // by clone call index
	failCloneDocument map[int]bool
	renderErrors      map[int]string
	panicPages        map[int]bool
	emptyPages        map[int]bool // render returns an image without data
	onCloneContext    func(call int)

	gate    chan struct{}
	started chan int

	next          pdfrenderer.Handle
	baseDoc       pdfrenderer.Handle
	baseCtx       pdfrenderer.Handle
	ctxCalls      int
	docCalls      int
	cloned        map[pdfrenderer.Handle]bool // every cloned ctx and doc
	releases      map[pdfrenderer.Handle]int
	ctxPage       map[pdfrenderer.Handle]int
	renders       map[int]int
	flushes       map[int]int
	freed         int
	live, maxLive int
}

func newFakeBackend(pages int) *fakeBackend {
	return &fakeBackend{
		pages:             pages,
		failCloneContext:  map[int]bool{},
		failCloneDocument: map[int]bool{},
		renderErrors:      map[int]string{},
		panicPages:        map[int]bool{},
		emptyPages:        map[int]bool{},
		cloned:            map[pdfrenderer.Handle]bool{},
		releases:          map[pdfrenderer.Handle]int{},
		ctxPage:           map[pdfrenderer.Handle]int{},
		renders:           map[int]int{},
		flushes:           map[int]int{},
	}
}

func (f *fakeBackend) handle() pdfrenderer.Handle {
	f.next++
	return f.next
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) Init(path string) (pdfrenderer.Handle, pdfrenderer.Handle, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return pdfrenderer.NilHandle, pdfrenderer.NilHandle, 0, f.initErr
	}
	f.baseDoc, f.baseCtx = f.handle(), f.handle()
	return f.baseDoc, f.baseCtx, f.pages, nil
}

func (f *fakeBackend) CloneContext(ctx pdfrenderer.Handle) (pdfrenderer.Handle, error) {
	f.mu.Lock()
	call := f.ctxCalls
	f.ctxCalls++
	hook := f.onCloneContext
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx != f.baseCtx {
		return pdfrenderer.NilHandle, errors.New("clone from unknown context")
	}
	if f.failCloneContext[call] {
		return pdfrenderer.NilHandle, fmt.Errorf("out of memory cloning context %d", call)
	}
	h := f.handle()
	f.cloned[h] = true
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	return h, nil
}

func (f *fakeBackend) CloneDocument(path string, ctx pdfrenderer.Handle) (pdfrenderer.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.docCalls
	f.docCalls++
	if f.failCloneDocument[call] {
		return pdfrenderer.NilHandle, fmt.Errorf("cannot reopen %s", path)
	}
	h := f.handle()
	f.cloned[h] = true
	return h, nil
}

func (f *fakeBackend) RenderPage(page int, ctx, doc pdfrenderer.Handle) (*pdfrenderer.Image, error) {
	f.mu.Lock()
	f.ctxPage[ctx] = page
	f.renders[page]++
	gate, started := f.gate, f.started
	msg, failing := f.renderErrors[page]
	panics := f.panicPages[page]
	empty := f.emptyPages[page]
	f.mu.Unlock()

	if started != nil {
		started <- page
	}
	if gate != nil {
		<-gate
	}
	if panics {
		panic(fmt.Sprintf("native fault on page %d", page))
	}
	if failing {
		return nil, errors.New(msg)
	}
	if empty {
		return &pdfrenderer.Image{Width: 2, Height: 2, Channels: 1}, nil
	}
	return &pdfrenderer.Image{Data: []byte{0, 255, 255, 0}, Width: 2, Height: 2, Channels: 1}, nil
}

func (f *fakeBackend) FreeImage(img *pdfrenderer.Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freed++
}

func (f *fakeBackend) FlushCache(ctx pdfrenderer.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes[f.ctxPage[ctx]]++
}

func (f *fakeBackend) Cleanup(doc, ctx pdfrenderer.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range []pdfrenderer.Handle{doc, ctx} {
		if h.IsNil() {
			continue
		}
		f.releases[h]++
	}
	if f.cloned[ctx] && f.releases[ctx] == 1 {
		f.live--
	}
}

// badReleases returns cloned handles that were not released exactly once
func (f *fakeBackend) badReleases() map[pdfrenderer.Handle]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	bad := map[pdfrenderer.Handle]int{}
	for h := range f.cloned {
		if n := f.releases[h]; n != 1 {
			bad[h] = n
		}
	}
	return bad
}

func (f *fakeBackend) snapshot() (ctxCalls, maxLive, freed int, renders, flushes map[int]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	renders = make(map[int]int, len(f.renders))
	for k, v := range f.renders {
		renders[k] = v
	}
	flushes = make(map[int]int, len(f.flushes))
	for k, v := range f.flushes {
		flushes[k] = v
	}
	return f.ctxCalls, f.maxLive, f.freed, renders, flushes
}
