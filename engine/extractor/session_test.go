package extractor

import (
	"errors"
	"testing"

	"github.com/drummonds/pagextract/engine/pdfrenderer"
)

func TestOpenInitFailure(t *testing.T) {
	fake := newFakeBackend(3)
	fake.initErr = errors.New("failed to open document at path missing.pdf: no such file")

	session, err := Open(fake, "missing.pdf")
	if err == nil {
		t.Fatal("expected an error opening a missing document")
	}
	if session != nil {
		t.Error("expected no session on failure")
	}
	if KindOf(err) != InitializationFailure {
		t.Errorf("kind = %v, want %v", KindOf(err), InitializationFailure)
	}
}

func TestOpenNilBackend(t *testing.T) {
	if _, err := Open(nil, "a.pdf"); err == nil {
		t.Error("expected an error without a backend")
	}
}

func TestSessionCloneAndClose(t *testing.T) {
	fake := newFakeBackend(5)
	session, err := Open(fake, "doc.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if session.PageCount != 5 {
		t.Errorf("PageCount = %d, want 5", session.PageCount)
	}

	ctx, err := session.CloneContext()
	if err != nil {
		t.Fatalf("CloneContext: %v", err)
	}
	doc, err := session.CloneDocument(ctx)
	if err != nil {
		t.Fatalf("CloneDocument: %v", err)
	}
	if ctx == fake.baseCtx || doc == fake.baseDoc {
		t.Error("clones must not reuse the base handles")
	}
	newHandlePair(fake, ctx, doc).Release()

	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !session.Closed() {
		t.Error("session should report closed")
	}
	if n := fake.releases[fake.baseCtx]; n != 1 {
		t.Errorf("base context released %d times, want 1", n)
	}
	if n := fake.releases[fake.baseDoc]; n != 1 {
		t.Errorf("base document released %d times, want 1", n)
	}

	_, err = session.CloneContext()
	if err == nil || err.Error() != "Base context handle is null" {
		t.Errorf("CloneContext after Close = %v", err)
	}
}

func TestHandlePairReleasesOnce(t *testing.T) {
	fake := newFakeBackend(1)
	pair := newHandlePair(fake, pdfrenderer.Handle(40), pdfrenderer.Handle(41))

	released := 0
	done := make(chan bool)
	for i := 0; i < 8; i++ {
		go func() { done <- pair.Release() }()
	}
	for i := 0; i < 8; i++ {
		if <-done {
			released++
		}
	}
	if released != 1 {
		t.Errorf("Release performed %d times, want 1", released)
	}
	if !pair.Released() {
		t.Error("pair should report released")
	}
	if fake.releases[40] != 1 || fake.releases[41] != 1 {
		t.Errorf("backend cleanup counts = %v", fake.releases)
	}
}

func TestHandlePairUseReleasesOnPanic(t *testing.T) {
	fake := newFakeBackend(1)
	pair := newHandlePair(fake, pdfrenderer.Handle(50), pdfrenderer.NilHandle)

	func() {
		defer func() { _ = recover() }()
		_ = pair.Use(func(ctx, doc pdfrenderer.Handle) error {
			panic("boom")
		})
	}()

	if !pair.Released() {
		t.Fatal("pair not released after panic")
	}
	if fake.releases[50] != 1 {
		t.Errorf("context released %d times", fake.releases[50])
	}
	if _, ok := fake.releases[pdfrenderer.NilHandle]; ok {
		t.Error("nil document handle was passed through as a release")
	}
}

func TestSharedStateUpdate(t *testing.T) {
	state := NewSharedState(map[int]int{})
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(i int) {
			state.Update(func(m *map[int]int) { (*m)[i%3]++ })
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	snap := state.Snapshot()
	if snap[0]+snap[1]+snap[2] != 10 {
		t.Errorf("lost updates: %v", snap)
	}
}
