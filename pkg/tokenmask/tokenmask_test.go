package tokenmask

import "testing"

func TestMask_ShortTokenIsFullyHidden(t *testing.T) {
	if got := Mask("short"); got != "***" {
		t.Errorf("Mask(short) = %q, want ***", got)
	}
}

func TestMask_LongTokenKeepsEnds(t *testing.T) {
	got := Mask("ghu_1234567890abcdef")
	if got != "ghu_...cdef" {
		t.Errorf("Mask(long) = %q", got)
	}
}
