package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestApplyVCS(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123abcd"},
		{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	var fromVCS Info
	applyVCS(&fromVCS, settings)
	if fromVCS.GitCommit != "0123abcd" || fromVCS.BuildDate != "2026-10-01T12:00:00Z" || !fromVCS.Dirty {
		t.Errorf("vcs info = %+v", fromVCS)
	}

	linked := Info{GitCommit: "release", BuildDate: "today"}
	applyVCS(&linked, settings)
	if linked.GitCommit != "release" || linked.BuildDate != "today" {
		t.Errorf("link-time values replaced: %+v", linked)
	}
}

func TestGetFillsPlaceholders(t *testing.T) {
	got := Get()
	if got.Version != Version || got.GitCommit == "" || got.BuildDate == "" {
		t.Errorf("Get() = %+v", got)
	}
	if !strings.HasPrefix(got.GoVersion, "go") || !strings.Contains(got.Platform, "/") {
		t.Errorf("runtime fields = %q %q", got.GoVersion, got.Platform)
	}
}
