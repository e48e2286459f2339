// Package browser opens URLs in the user's default browser.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// launch starts a process without waiting for it. Replaced in tests.
var launch = func(name string, args ...string) error {
	return exec.Command(name, args...).Start()
}

// command returns the program and arguments that open url on goos.
func command(goos, url string) (string, []string) {
	switch goos {
	case "windows":
		return "cmd", []string{"/c", "start", "", url}
	case "darwin":
		return "open", []string{url}
	default:
		return "xdg-open", []string{url}
	}
}

// Open opens an http(s) URL in the default browser. It does not wait for
// the browser to exit.
func Open(url string) error {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("refusing to open non-http url %q", url)
	}
	name, args := command(runtime.GOOS, url)
	if err := launch(name, args...); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	return nil
}
