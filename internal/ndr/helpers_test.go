package ndr_test

import (
	"fmt"
	"testing"
	"time"

	"ndr-go/internal/database"
	"ndr-go/internal/model"
	"ndr-go/internal/ndr"
	"ndr-go/internal/testutil"
	"ndr-go/internal/vault"
)

var (
	r1 = model.Device{Hostname: "r1", Address: "10.0.0.1", Kind: "cisco_ios"}
	r2 = model.Device{Hostname: "r2", Address: "10.0.0.2", Kind: "cisco_ios"}
	r3 = model.Device{Hostname: "r3", Address: "10.0.0.3", Kind: "cisco_xe"}
)

// runningConfig returns a plausible IOS capture whose body differs per rev.
func runningConfig(hostname string, rev int) string {
	return fmt.Sprintf("Building configuration...\n\n! Last configuration change at 10:%02d:00 UTC\n!\nhostname %s\n!\ninterface Gi0/1\n description rev %d\n!\nend\n", rev, hostname, rev)
}

type fixture struct {
	db        *database.SQLiteDatabase
	vault     *vault.MemoryVault
	encryptor ndr.Encryptor
	sessions  *testutil.FakeSessionFactory
	notifier  *testutil.RecordingNotifier
	clock     *testutil.StubClock
	svc       *ndr.NDRService
}

func newFixture(t *testing.T, policy ndr.Policy) *fixture {
	t.Helper()
	return newFixtureWithEncryptor(t, policy, nil)
}

func newFixtureWithEncryptor(t *testing.T, policy ndr.Policy, enc ndr.Encryptor) *fixture {
	t.Helper()
	return newFixtureWith(t, policy, fixtureOptions{encryptor: enc})
}

// fixtureOptions customises the collaborators handed to the service.
type fixtureOptions struct {
	encryptor ndr.Encryptor
	logger    ndr.Logger
	// index wraps the test database before the service sees it.
	index func(*database.SQLiteDatabase) ndr.Database
}

func newFixtureWith(t *testing.T, policy ndr.Policy, opts fixtureOptions) *fixture {
	t.Helper()

	f := &fixture{
		db:        testutil.NewTestDatabase(t),
		vault:     testutil.NewTestVault(),
		encryptor: opts.encryptor,
		sessions:  testutil.NewFakeSessionFactory(),
		notifier:  &testutil.RecordingNotifier{},
		clock:     testutil.FixedClock(),
	}

	var index ndr.Database = f.db
	if opts.index != nil {
		index = opts.index(f.db)
	}
	logger := opts.logger
	if logger == nil {
		logger = ndr.NewNopLogger()
	}

	svc, err := ndr.NewNDRService(index, f.vault, opts.encryptor, f.sessions, f.notifier, logger, f.clock, testutil.NewStubIDGenerator(), policy)
	if err != nil {
		t.Fatalf("NewNDRService() error = %v", err)
	}
	f.svc = svc
	return f
}

// backupRev sets the device's running config to rev and backs it up,
// failing the test unless a new snapshot is stored.
func (f *fixture) backupRev(t *testing.T, device model.Device, rev int) *model.Snapshot {
	t.Helper()
	f.sessions.SetConfig(device.Hostname, runningConfig(device.Hostname, rev))
	res, err := f.svc.Backup(t.Context(), device)
	if err != nil {
		t.Fatalf("Backup(%s rev %d) error = %v", device.Hostname, rev, err)
	}
	if res.Status != ndr.BackupChanged {
		t.Fatalf("Backup(%s rev %d) status = %s (%s), want changed", device.Hostname, rev, res.Status, res.Message)
	}
	return res.Snapshot
}

func (f *fixture) pointer(t *testing.T, hostname string) string {
	t.Helper()
	p, err := f.svc.Store().Pointer(hostname)
	if err != nil {
		t.Fatalf("Pointer(%s) error = %v", hostname, err)
	}
	return p
}

func snap(id string, at time.Time) *model.Snapshot {
	return &model.Snapshot{ID: id, CapturedAt: at}
}

func normalized(t *testing.T, raw string) string {
	t.Helper()
	text, err := ndr.MustChangeDetector(ndr.DefaultVolatilePatterns).Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	return text
}
