package version

import "testing"

func TestString(t *testing.T) {
	oldV, oldSHA, oldTime := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldTime })

	Version, GitSHA, BuildTime = "1.2.3", "abc123", "2026-01-02"
	got := String("roomshots")
	want := "roomshots 1.2.3 (commit abc123, built 2026-01-02)"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
