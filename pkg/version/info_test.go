package version

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

func overrideBuildVars(t *testing.T, v, commit, built string) {
	t.Helper()
	oldVersion, oldCommit, oldBuildTime := AppVersion, GitCommit, BuildTime
	t.Cleanup(func() {
		AppVersion, GitCommit, BuildTime = oldVersion, oldCommit, oldBuildTime
	})
	AppVersion, GitCommit, BuildTime = v, commit, built
}

func TestCurrent_Defaults(t *testing.T) {
	overrideBuildVars(t, "", " ", "")

	info := Current("")
	if info.Service != Unknown {
		t.Fatalf("expected service %q, got %q", Unknown, info.Service)
	}
	if info.Version != DevelopmentVersion {
		t.Fatalf("expected version %q, got %q", DevelopmentVersion, info.Version)
	}
	if info.Commit != Unknown || info.BuildTime != Unknown {
		t.Fatalf("expected unknown commit/build_time, got %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Fatalf("expected go version %q, got %q", runtime.Version(), info.GoVersion)
	}
}

func TestCurrent_Overrides(t *testing.T) {
	overrideBuildVars(t, "v0.3.1", "abc1234", "2026-01-02T03:04:05Z")

	info := Current("asyncstorage")
	if info.Version != "v0.3.1" || info.Commit != "abc1234" {
		t.Fatalf("unexpected info %+v", info)
	}
	if !strings.HasPrefix(info.String(), "asyncstorage v0.3.1 (commit=abc1234") {
		t.Fatalf("unexpected String() %q", info.String())
	}
}

func TestInfo_ParseBuildTime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	parsed, ok := Info{BuildTime: now.Format(time.RFC3339)}.ParseBuildTime()
	if !ok || !parsed.Equal(now) {
		t.Fatalf("expected %s, got %s (ok=%v)", now, parsed, ok)
	}

	if _, ok := (Info{BuildTime: Unknown}).ParseBuildTime(); ok {
		t.Fatal("unknown build time must not parse")
	}
	if _, ok := (Info{BuildTime: "yesterday"}).ParseBuildTime(); ok {
		t.Fatal("malformed build time must not parse")
	}
}
