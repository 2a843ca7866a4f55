package testutil

import (
	"context"
	"fmt"
	"sync"

	"ndr-go/internal/model"
	"ndr-go/internal/ndr"
)

// FakeDevice is the scripted behaviour of one device behind a
// FakeSessionFactory. Fields are read under the factory's lock.
type FakeDevice struct {
	Config      string // Returned by Capture; replaced by the candidate on a successful Apply
	OpenErr     error
	CaptureErr  error
	StageErr    error
	ApplyErr    error
	ApplyOutput string
	BlockApply  bool // Apply waits for its context to end

	staged []string
}

// FakeSessionFactory hands out in-memory sessions and records every call
// as "<op> <hostname>".
type FakeSessionFactory struct {
	mu      sync.Mutex
	devices map[string]*FakeDevice
	calls   []string
}

var _ ndr.SessionFactory = (*FakeSessionFactory)(nil)

func NewFakeSessionFactory() *FakeSessionFactory {
	return &FakeSessionFactory{devices: make(map[string]*FakeDevice)}
}

// Script sets up hostname's device. fn runs under the factory lock.
func (f *FakeSessionFactory) Script(hostname string, fn func(d *FakeDevice)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.device(hostname))
}

// SetConfig sets the running configuration returned by Capture.
func (f *FakeSessionFactory) SetConfig(hostname, config string) {
	f.Script(hostname, func(d *FakeDevice) { d.Config = config })
}

// Staged returns every candidate uploaded to hostname, oldest first.
func (f *FakeSessionFactory) Staged(hostname string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.device(hostname).staged...)
}

// Running returns the device's current configuration.
func (f *FakeSessionFactory) Running(hostname string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.device(hostname).Config
}

func (f *FakeSessionFactory) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeSessionFactory) device(hostname string) *FakeDevice {
	d, ok := f.devices[hostname]
	if !ok {
		d = &FakeDevice{}
		f.devices[hostname] = d
	}
	return d
}

func (f *FakeSessionFactory) record(op, hostname string) *FakeDevice {
	f.calls = append(f.calls, op+" "+hostname)
	return f.device(hostname)
}

func (f *FakeSessionFactory) Open(ctx context.Context, device model.Device) (ndr.DeviceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.record("open", device.Hostname)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fakeSession{factory: f, hostname: device.Hostname}, nil
}

type fakeSession struct {
	factory  *FakeSessionFactory
	hostname string
	closed   bool
}

func (s *fakeSession) Capture(ctx context.Context) (string, error) {
	f := s.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.record("capture", s.hostname)
	if s.closed {
		return "", fmt.Errorf("session closed")
	}
	if d.CaptureErr != nil {
		return "", d.CaptureErr
	}
	return d.Config, ctx.Err()
}

func (s *fakeSession) Stage(ctx context.Context, content string) error {
	f := s.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.record("stage", s.hostname)
	if d.StageErr != nil {
		return d.StageErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.staged = append(d.staged, content)
	return nil
}

func (s *fakeSession) Apply(ctx context.Context) (string, error) {
	f := s.factory
	f.mu.Lock()
	d := f.record("apply", s.hostname)
	block, applyErr, output := d.BlockApply, d.ApplyErr, d.ApplyOutput
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if applyErr != nil {
		return "", applyErr
	}

	f.mu.Lock()
	if n := len(d.staged); n > 0 {
		d.Config = d.staged[n-1]
	}
	f.mu.Unlock()
	return output, nil
}

func (s *fakeSession) Close() error {
	f := s.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("close", s.hostname)
	s.closed = true
	return nil
}
