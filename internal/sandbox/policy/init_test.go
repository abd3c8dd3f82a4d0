package policy_test

import (
	"bytes"
	"strings"
	"testing"

	"codesandbox/internal/sandbox/policy"
)

func TestInitRequestRoundTrip(t *testing.T) {
	prof := policy.DefaultRuntimePolicy().SeccompProfile()
	req := policy.InitRequest{
		Argv:    []string{"java", "-cp", "/w", "Main"},
		Dir:     "/w",
		Rlimits: policy.Rlimits{CPUSeconds: 3, DisableCore: true},
		Seccomp: &prof,
	}
	var buf bytes.Buffer
	if err := policy.EncodeInitRequest(&buf, req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := policy.DecodeInitRequest(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Dir != "/w" || len(got.Argv) != 4 || got.Seccomp == nil || len(got.Seccomp.Rules) != len(prof.Rules) {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestDecodeInitRequestValidation(t *testing.T) {
	for _, raw := range []string{`{}`, `{"argv":["java"]}`, `not json`} {
		if _, err := policy.DecodeInitRequest(strings.NewReader(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestStripJVMNotices(t *testing.T) {
	stderr := "WARNING: A command line option has enabled the Security Manager. The Security Manager is deprecated and will be removed in a future release.\n"
	if got := policy.StripJVMNotices(stderr); got != "" {
		t.Fatalf("expected notice stripped, got %q", got)
	}
	mixed := stderr + "Exception in thread \"main\" java.security.AccessControlException: access denied\n"
	got := policy.StripJVMNotices(mixed)
	if !strings.HasPrefix(got, "Exception in thread") {
		t.Fatalf("expected exception kept, got %q", got)
	}
	if policy.StripJVMNotices("plain error\n") != "plain error\n" {
		t.Fatalf("unrelated stderr must be untouched")
	}
}
