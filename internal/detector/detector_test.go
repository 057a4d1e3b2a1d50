package detector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/awattacker/observer/internal/model"
)

// fakeSource serves a mutable snapshot of the foreground window.
type fakeSource struct {
	mu        sync.Mutex
	pkg       string
	act       string
	source    string
	pkgErr    error
	sourceErr error
	reads     int
}

func (f *fakeSource) set(pkg, act, source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pkg, f.act, f.source = pkg, act, source
}

func (f *fakeSource) CurrentPackage(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.pkg, f.pkgErr
}

func (f *fakeSource) CurrentActivity(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.act, nil
}

func (f *fakeSource) PageSource(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sourceErr != nil {
		return "", f.sourceErr
	}
	return f.source, nil
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []model.WindowEvent
}

func (r *recorder) publish(ev model.WindowEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []model.WindowEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.WindowEvent(nil), r.events...)
}

func newTestDetector(src *fakeSource, rec *recorder) *Detector {
	d := New(src, rec.publish, Config{Interval: 5 * time.Millisecond, ErrorInterval: 20 * time.Millisecond})
	d.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return d
}

func TestDetector_FirstTickPublishes(t *testing.T) {
	src := &fakeSource{}
	src.set("com.example.app", ".MainActivity", "<hierarchy/>")
	rec := &recorder{}
	d := newTestDetector(src, rec)

	if err := d.poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != model.EventTypeWindowStateChanged {
		t.Errorf("expected type %s, got %s", model.EventTypeWindowStateChanged, ev.Type)
	}
	if ev.PackageName != "com.example.app" || ev.ActivityName != ".MainActivity" {
		t.Errorf("unexpected window: %s/%s", ev.PackageName, ev.ActivityName)
	}
	if ev.Timestamp != 1700000000000 {
		t.Errorf("expected timestamp 1700000000000, got %d", ev.Timestamp)
	}
	if !ev.SourceChanged {
		t.Error("expected first observation to report source change")
	}
}

func TestDetector_NoEventWhenUnchanged(t *testing.T) {
	src := &fakeSource{}
	src.set("com.example.app", ".MainActivity", "<hierarchy/>")
	rec := &recorder{}
	d := newTestDetector(src, rec)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := d.poll(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("expected only the initial event, got %d", n)
	}
}

func TestDetector_SourceOnlyChange(t *testing.T) {
	src := &fakeSource{}
	src.set("com.example.app", ".MainActivity", "<hierarchy><node text=\"a\"/></hierarchy>")
	rec := &recorder{}
	d := newTestDetector(src, rec)
	ctx := context.Background()

	d.poll(ctx)
	// whitespace alone is a change
	src.set("com.example.app", ".MainActivity", "<hierarchy><node text=\"a\"/> </hierarchy>")
	d.poll(ctx)
	d.poll(ctx)

	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[1].SourceChanged {
		t.Error("expected source_changed=true for source-only change")
	}
}

func TestDetector_ActivityChangeWithoutSourceChange(t *testing.T) {
	src := &fakeSource{}
	src.set("com.example.app", ".MainActivity", "<hierarchy/>")
	rec := &recorder{}
	d := newTestDetector(src, rec)
	ctx := context.Background()

	d.poll(ctx)
	src.set("com.example.app", ".SettingsActivity", "<hierarchy/>")
	d.poll(ctx)

	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].SourceChanged {
		t.Error("expected source_changed=false when only the activity changed")
	}
	if events[1].ActivityName != ".SettingsActivity" {
		t.Errorf("expected .SettingsActivity, got %s", events[1].ActivityName)
	}
}

func TestDetector_PageSourceFailure(t *testing.T) {
	src := &fakeSource{}
	src.set("com.example.app", ".MainActivity", "<hierarchy/>")
	rec := &recorder{}
	d := newTestDetector(src, rec)
	ctx := context.Background()

	d.poll(ctx)

	src.mu.Lock()
	src.sourceErr = errors.New("uiautomator busy")
	src.mu.Unlock()

	if err := d.poll(ctx); err != nil {
		t.Fatalf("page source failure should not fail the tick: %v", err)
	}
	if n := len(rec.snapshot()); n != 1 {
		t.Fatalf("expected no event from a page source failure, got %d events", n)
	}

	// Recovering with the same source must not look like a change.
	src.mu.Lock()
	src.sourceErr = nil
	src.mu.Unlock()
	d.poll(ctx)

	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("expected no event after recovery with unchanged source, got %d events", n)
	}
}

func TestDetector_DriverErrorIsReturned(t *testing.T) {
	src := &fakeSource{pkgErr: errors.New("uiautomator2 server crashed")}
	rec := &recorder{}
	d := newTestDetector(src, rec)

	if err := d.poll(context.Background()); err == nil {
		t.Fatal("expected error when package cannot be read")
	}
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestDetector_RunBacksOffAfterError(t *testing.T) {
	src := &fakeSource{pkgErr: errors.New("device offline")}
	rec := &recorder{}
	d := New(src, rec.publish, Config{Interval: time.Millisecond, ErrorInterval: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	src.mu.Lock()
	reads := src.reads
	src.mu.Unlock()

	// With a 1ms healthy cadence an un-degraded loop would read ~100 times.
	if reads > 5 {
		t.Errorf("expected degraded cadence after errors, got %d reads", reads)
	}
	if reads < 2 {
		t.Errorf("expected retries after errors, got %d reads", reads)
	}
}

func TestDetector_RunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	src.set("com.example.app", ".MainActivity", "<hierarchy/>")
	rec := &recorder{}
	d := newTestDetector(src, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean exit, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("detector did not stop after cancellation")
	}

	count := len(rec.snapshot())
	src.set("com.example.app", ".OtherActivity", "<hierarchy/>")
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.snapshot()); n != count {
		t.Errorf("expected no events after cancellation, got %d new", n-count)
	}
}

func TestFingerprint(t *testing.T) {
	a := NewFingerprint("<node/>")
	b := NewFingerprint("<node/>")
	c := NewFingerprint("<node />")

	if a != b {
		t.Error("expected equal text to produce equal fingerprints")
	}
	if a == c {
		t.Error("expected different text to produce different fingerprints")
	}
}
