package core

import (
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunch_ReapsExitedHelper(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no true(1) on windows")
	}
	path, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true(1) not found")
	}

	cmd := exec.Command(path)
	reaped, err := launch(cmd)
	require.NoError(t, err)

	select {
	case <-reaped:
	case <-time.After(2 * time.Second):
		t.Fatal("helper process was never waited on")
	}
	require.NotNil(t, cmd.ProcessState)
	assert.True(t, cmd.ProcessState.Exited())
}

func TestLaunch_StartFailure(t *testing.T) {
	_, err := launch(exec.Command("/nonexistent/pixieauth-browser-helper"))
	assert.Error(t, err)
}
