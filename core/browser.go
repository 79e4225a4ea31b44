package core

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// Browser presents an authorization URL to the user. Implementations backed by an
// authentication session that the user can dismiss return ErrBrowserDismissed.
type Browser interface {
	Open(ctx context.Context, rawURL string) error
}

// SystemBrowser opens URLs with the operating system's default handler
type SystemBrowser struct{}

func (SystemBrowser) Open(_ context.Context, rawURL string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", rawURL)
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", rawURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", rawURL)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	_, err := launch(cmd)
	return err
}

// launch starts cmd without waiting for it and reaps it once it exits. The
// returned channel is closed after the process has been waited on.
func launch(cmd *exec.Cmd) (<-chan struct{}, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	reaped := make(chan struct{})
	go func() {
		defer close(reaped)
		cmd.Wait()
	}()
	return reaped, nil
}

// NoBrowser never opens anything, forcing the manual-entry path
type NoBrowser struct{}

func (NoBrowser) Open(context.Context, string) error {
	return fmt.Errorf("no browser available")
}
