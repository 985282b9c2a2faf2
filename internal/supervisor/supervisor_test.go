package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "random", KindRandom.String())
	assert.Equal(t, "protocol", KindProtocol.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestSocketpairConnectsBothEnds(t *testing.T) {
	local, remote, err := Socketpair("test")
	require.NoError(t, err)
	defer local.Close()
	defer remote.Close()

	_, err = local.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := remote.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestSpawnTracksChildPID(t *testing.T) {
	sup := New("/usr/bin/true")
	child, err := sup.Spawn(KindRandom, 0, nil, nil)
	require.NoError(t, err)
	assert.Greater(t, child.PID, 0)
	assert.Equal(t, KindRandom, child.Kind)
	assert.Len(t, sup.Children(), 1)

	// /usr/bin/true exits immediately; give it a moment then reap it so
	// the test doesn't leak a zombie.
	_ = child.cmd.Wait()
}

func TestShutdownWaitsForGracefulExit(t *testing.T) {
	script := writeScript(t, "trap 'kill $!; exit 0' TERM\nsleep 100 &\nwait\n")
	sup := New(script)
	_, err := sup.Spawn(KindRandom, 0, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	err = sup.Shutdown(5 * time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second, "should exit promptly on SIGTERM, not wait out the grace period")
}

func TestShutdownForceKillsStragglers(t *testing.T) {
	script := writeScript(t, "trap '' TERM\nsleep 100\n")
	sup := New(script)
	_, err := sup.Spawn(KindRandom, 0, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	err = sup.Shutdown(200 * time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "SIGKILL should reap the straggler quickly past the short grace period")
}

func TestStartWiresEverySpawnedService(t *testing.T) {
	sup := New("/usr/bin/true")
	listenLocal, listenRemote, err := Socketpair("listen")
	require.NoError(t, err)
	defer listenLocal.Close()

	var configuredAuth, configuredData, configuredProtocol bool
	tree, err := Start(sup, listenRemote,
		func(ctrl *os.File) error { configuredAuth = true; return nil },
		func(ctrl *os.File) error { configuredData = true; return nil },
		func(ctrl *os.File) error { configuredProtocol = true; return nil })
	require.NoError(t, err)

	assert.True(t, configuredAuth)
	assert.True(t, configuredData)
	assert.True(t, configuredProtocol)
	for _, c := range tree.All() {
		require.NotNil(t, c)
		assert.Greater(t, c.PID, 0)
		_ = c.cmd.Wait()
	}
}
