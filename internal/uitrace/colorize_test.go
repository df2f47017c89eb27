package uitrace

import (
	"strings"
	"testing"
)

func TestIsDisabledHonorsEnv(t *testing.T) {
	t.Setenv("AMIFUSE_NO_COLOR", "1")
	t.Setenv("NO_COLOR", "")
	if !IsDisabled() {
		t.Error("expected IsDisabled() = true with AMIFUSE_NO_COLOR set")
	}
}

func TestFormattersPassThroughWhenDisabled(t *testing.T) {
	t.Setenv("AMIFUSE_NO_COLOR", "1")

	if got := Address(0x1000); got != "00001000" {
		t.Errorf("Address = %q, want %q", got, "00001000")
	}
	if got := Action("LOCATE_OBJECT"); got != "LOCATE_OBJECT" {
		t.Errorf("Action = %q, want unmodified input", got)
	}
	if got := Detail("ok"); got != "ok" {
		t.Errorf("Detail = %q, want unmodified input", got)
	}
	if got := Border("---"); got != "---" {
		t.Errorf("Border = %q, want unmodified input", got)
	}
	if got := Header("section"); got != "section" {
		t.Errorf("Header = %q, want unmodified input", got)
	}
	if got := Error("boom"); got != "boom" {
		t.Errorf("Error = %q, want unmodified input", got)
	}
}

func TestAddressEnabledFormatsHex(t *testing.T) {
	t.Setenv("AMIFUSE_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")

	got := Address(0xDEADBEEF)
	if !strings.Contains(got, "DEADBEEF") || !strings.Contains(got, "\033[") {
		t.Errorf("Address = %q, want ANSI-wrapped hex containing DEADBEEF", got)
	}
}
