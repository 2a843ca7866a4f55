package transport

import (
	"strings"

	"ndr-go/internal/config"
)

// DefaultKind is the profile used for device kinds without an entry.
const DefaultKind = "cisco_ios"

// Profile holds the commands used to manage one kind of device.
// ApplyCommand may reference the uploaded candidate as {candidate}.
type Profile struct {
	CaptureCommand string
	FileSystem     string
	CandidateName  string
	ApplyCommand   string
}

// CandidatePath is the on-device path of the staged candidate,
// e.g. "flash:/restore_candidate.cfg".
func (p Profile) CandidatePath() string {
	return p.FileSystem + "/" + p.CandidateName
}

// CandidateTarget is the scp destination, e.g. "flash:restore_candidate.cfg".
func (p Profile) CandidateTarget() string {
	return p.FileSystem + p.CandidateName
}

func (p Profile) applyCommand() string {
	return strings.ReplaceAll(p.ApplyCommand, "{candidate}", p.CandidatePath())
}

var builtinProfiles = map[string]Profile{
	"cisco_ios": {
		CaptureCommand: "show running-config",
		FileSystem:     "flash:",
		CandidateName:  "restore_candidate.cfg",
		ApplyCommand:   "configure replace {candidate} force",
	},
	"cisco_xe": {
		CaptureCommand: "show running-config",
		FileSystem:     "bootflash:",
		CandidateName:  "restore_candidate.cfg",
		ApplyCommand:   "configure replace {candidate} force",
	},
	"cisco_nxos": {
		CaptureCommand: "show running-config",
		FileSystem:     "bootflash:",
		CandidateName:  "restore_candidate.cfg",
		ApplyCommand:   "configure replace {candidate}",
	},
}

// Profiles resolves device kinds to command profiles, layering configured
// overrides on top of the built-in ones.
type Profiles struct {
	byKind map[string]Profile
}

func NewProfiles(overrides map[string]config.ProfileConfig) *Profiles {
	p := &Profiles{byKind: make(map[string]Profile, len(builtinProfiles)+len(overrides))}
	for kind, prof := range builtinProfiles {
		p.byKind[kind] = prof
	}
	for kind, o := range overrides {
		base, ok := p.byKind[kind]
		if !ok {
			base = builtinProfiles[DefaultKind]
		}
		if o.CaptureCommand != "" {
			base.CaptureCommand = o.CaptureCommand
		}
		if o.FileSystem != "" {
			base.FileSystem = o.FileSystem
		}
		if o.CandidateName != "" {
			base.CandidateName = o.CandidateName
		}
		if o.ApplyCommand != "" {
			base.ApplyCommand = o.ApplyCommand
		}
		p.byKind[kind] = base
	}
	return p
}

// For returns the profile for kind, falling back to DefaultKind.
func (p *Profiles) For(kind string) Profile {
	if prof, ok := p.byKind[kind]; ok {
		return prof
	}
	return p.byKind[DefaultKind]
}
