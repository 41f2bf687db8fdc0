package git

import (
	"reflect"
	"testing"
)

func TestParseStatus(t *testing.T) {
	output := " M src/app.ts\n?? src/button/Button.tsx\nR  old.css -> styles/new.css\n?? \"with space.md\"\n\ngarbage\n"

	got := ParseStatus(output)
	want := []StatusEntry{
		{Code: " M", Path: "src/app.ts"},
		{Code: "??", Path: "src/button/Button.tsx"},
		{Code: "R ", Path: "styles/new.css"},
		{Code: "??", Path: "with space.md"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseStatus() = %+v, want %+v", got, want)
	}
	if !got[1].Untracked() || got[0].Untracked() {
		t.Error("Untracked() mismatch")
	}
}

func TestParseStatus_Empty(t *testing.T) {
	if got := ParseStatus(""); len(got) != 0 {
		t.Errorf("ParseStatus(\"\") = %v, want empty", got)
	}
}
