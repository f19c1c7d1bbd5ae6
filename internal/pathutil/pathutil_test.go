package pathutil

import "testing"

func TestLastSegment(t *testing.T) {
	cases := map[string]string{
		"/data/sub/x.txt": "x.txt",
		`d:\data\x.txt`:   "x.txt",
		"x.txt":           "x.txt",
		"/data/mixed\\y":  "y",
		"":                "",
	}
	for in, want := range cases {
		if got := LastSegment(in); got != want {
			t.Errorf("LastSegment(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestTrimTrailingSeparators(t *testing.T) {
	if got := TrimTrailingSeparators("/data/results///"); got != "/data/results" {
		t.Errorf("Unexpected trim result %q", got)
	}
	if got := TrimTrailingSeparators(`c:\data\`); got != `c:\data` {
		t.Errorf("Unexpected trim result %q", got)
	}
}

func TestHasExtension(t *testing.T) {
	cases := map[string]bool{
		"/data/report.csv": true,
		"/data/archive":    false,
		"/data/.hidden":    false,
		"/data/v1.2/":      true,
		"ends.":            false,
	}
	for in, want := range cases {
		if got := HasExtension(in); got != want {
			t.Errorf("HasExtension(%q) = %v, expected %v", in, got, want)
		}
	}
}

func TestSanitizeComponent(t *testing.T) {
	if got := SanitizeComponent("my file (1).csv"); got != "my_file__1_.csv" {
		t.Errorf("Unexpected sanitized value %q", got)
	}
	long := SanitizeComponent(string(make([]byte, 100)))
	if len(long) != 40 {
		t.Errorf("Expected truncation to 40, got %d", len(long))
	}
}
