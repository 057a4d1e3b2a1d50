// Package detector polls the automation driver and publishes window-state
// changes.
package detector

import (
	"context"
	"crypto/sha256"
	"log"
	"time"

	"github.com/awattacker/observer/internal/model"
)

const (
	// DefaultInterval is the polling cadence while the driver is healthy.
	DefaultInterval = 100 * time.Millisecond

	// DefaultErrorInterval is the cadence for the tick after a driver error.
	DefaultErrorInterval = time.Second
)

// Source is the part of the automation driver the detector reads.
type Source interface {
	CurrentPackage(ctx context.Context) (string, error)
	CurrentActivity(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
}

// Publisher receives detected events in detection order.
type Publisher func(event model.WindowEvent)

// Fingerprint is a digest of page-source text.
type Fingerprint [sha256.Size]byte

// NewFingerprint hashes page-source text. Any byte difference changes the result.
func NewFingerprint(source string) Fingerprint {
	return sha256.Sum256([]byte(source))
}

// Config holds detector timing.
type Config struct {
	Interval      time.Duration
	ErrorInterval time.Duration
}

// Detector compares consecutive snapshots of the foreground window and
// publishes an event whenever package, activity or page source changes.
type Detector struct {
	source        Source
	publish       Publisher
	interval      time.Duration
	errorInterval time.Duration
	now           func() time.Time

	// last observed state, owned by the Run goroutine
	observed        bool
	lastPackage     string
	lastActivity    string
	lastFingerprint Fingerprint
	hasFingerprint  bool
}

// New creates a new Detector.
func New(source Source, publish Publisher, config Config) *Detector {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.ErrorInterval <= 0 {
		config.ErrorInterval = DefaultErrorInterval
	}
	return &Detector{
		source:        source,
		publish:       publish,
		interval:      config.Interval,
		errorInterval: config.ErrorInterval,
		now:           time.Now,
	}
}

// Run polls until ctx is cancelled. Cancellation is a clean exit and returns nil.
// State starts fresh on every Run, so the first successful tick always publishes.
func (d *Detector) Run(ctx context.Context) error {
	d.observed = false
	d.hasFingerprint = false

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Window change detector stopped")
			return nil
		case <-timer.C:
		}

		delay := d.interval
		if err := d.poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("Error monitoring window changes: %v", err)
			delay = d.errorInterval
		}
		timer.Reset(delay)
	}
}

// poll performs one tick. It returns an error only when package or activity
// could not be read; page-source failures leave the fingerprint unknown.
func (d *Detector) poll(ctx context.Context) error {
	pkg, err := d.source.CurrentPackage(ctx)
	if err != nil {
		return err
	}
	act, err := d.source.CurrentActivity(ctx)
	if err != nil {
		return err
	}

	var fp Fingerprint
	known := false
	if src, err := d.source.PageSource(ctx); err != nil {
		log.Printf("Error getting page source: %v", err)
	} else {
		fp = NewFingerprint(src)
		known = true
	}

	sourceChanged := known && (!d.hasFingerprint || fp != d.lastFingerprint)
	changed := !d.observed || pkg != d.lastPackage || act != d.lastActivity || sourceChanged
	if !changed {
		return nil
	}

	// Drop the event if we were cancelled while reading the driver.
	if ctx.Err() != nil {
		return nil
	}

	event := model.NewWindowEvent(pkg, act, sourceChanged, d.now())
	d.publish(event)

	d.observed = true
	d.lastPackage = pkg
	d.lastActivity = act
	if known {
		d.lastFingerprint = fp
		d.hasFingerprint = true
	}

	log.Printf("Window state changed: %s/%s (source changed: %v)", pkg, act, sourceChanged)
	return nil
}
