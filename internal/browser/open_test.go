package browser

import (
	"errors"
	"reflect"
	"testing"
)

func TestCommand(t *testing.T) {
	tests := []struct {
		goos     string
		wantName string
		wantArgs []string
	}{
		{"windows", "cmd", []string{"/c", "start", "", "http://x"}},
		{"darwin", "open", []string{"http://x"}},
		{"linux", "xdg-open", []string{"http://x"}},
		{"freebsd", "xdg-open", []string{"http://x"}},
	}
	for _, tt := range tests {
		name, args := command(tt.goos, "http://x")
		if name != tt.wantName || !reflect.DeepEqual(args, tt.wantArgs) {
			t.Errorf("%s: got %s %v", tt.goos, name, args)
		}
	}
}

func TestOpen(t *testing.T) {
	orig := launch
	defer func() { launch = orig }()

	var got []string
	launch = func(name string, args ...string) error {
		got = append([]string{name}, args...)
		return nil
	}
	if err := Open("http://127.0.0.1:8742"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(got) == 0 || got[len(got)-1] != "http://127.0.0.1:8742" {
		t.Errorf("launched %v", got)
	}
}

func TestOpen_RejectsNonHTTP(t *testing.T) {
	orig := launch
	defer func() { launch = orig }()
	launch = func(string, ...string) error {
		t.Fatal("must not launch")
		return nil
	}
	if err := Open("file:///etc/passwd"); err == nil {
		t.Error("expected error for file url")
	}
}

func TestOpen_LaunchError(t *testing.T) {
	orig := launch
	defer func() { launch = orig }()
	launch = func(string, ...string) error { return errors.New("no display") }
	if err := Open("https://example.com"); err == nil {
		t.Error("expected launch error")
	}
}
