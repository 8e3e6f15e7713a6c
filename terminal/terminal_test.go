package terminal_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vfs "github.com/RSKELT0N/VFS"
	"github.com/RSKELT0N/VFS/file_systems/fat32"
	"github.com/RSKELT0N/VFS/terminal"
	vfstesting "github.com/RSKELT0N/VFS/testing"
)

func newSession(t *testing.T) (*terminal.Terminal, *vfs.Registry) {
	registry := vfs.NewRegistry(t.TempDir(), map[vfs.FSType]vfs.EngineFactory{
		vfs.FSTypeFAT32: fat32.Factory(vfstesting.TinyProfile()),
	})
	term := terminal.New(registry, strings.NewReader(""), io.Discard)
	return term, registry
}

func execute(t *testing.T, term *terminal.Terminal, line string) string {
	var out bytes.Buffer
	quit := term.Execute(line, &out)
	require.False(t, quit, "%q should not end the session", line)
	return out.String()
}

func TestUnknownCommand(t *testing.T) {
	term, _ := newSession(t)
	assert.Contains(t, execute(t, term, "bogus"), "command is not found")
}

func TestInternalCommandsNeedMount(t *testing.T) {
	term, _ := newSession(t)

	for _, line := range []string{"ls", "mkdir x", "cd x", "touch x", "cat x", "rm x", "mv a b", "cp a b", "/fat"} {
		output := execute(t, term, line)
		assert.Containsf(t, output, vfs.ErrNotMounted.Error(),
			"%q must be rejected while unmounted", line)
	}
}

func TestArityValidation(t *testing.T) {
	term, _ := newSession(t)
	execute(t, term, "/vfs add a")
	execute(t, term, "/vfs mnt a")

	assert.Contains(t, execute(t, term, "mkdir"), "[WARNING]")
	assert.Contains(t, execute(t, term, "mv onlyone"), "[WARNING]")
	assert.Contains(t, execute(t, term, "/vfs mnt"), "[WARNING]")
}

// Fresh disk: register, mount, build a tree, and read it back over a second
// mount of the same image.
func TestMountWorkRemountScenario(t *testing.T) {
	term, registry := newSession(t)

	assert.Empty(t, execute(t, term, "/vfs add A"))
	assert.Empty(t, execute(t, term, "/vfs mnt A"))
	assert.Equal(t, "A", registry.MountedName())

	assert.Empty(t, execute(t, term, "mkdir foo"))
	assert.Empty(t, execute(t, term, "cd foo"))
	assert.Empty(t, execute(t, term, "touch bar"))

	listing := execute(t, term, "ls")
	assert.Contains(t, listing, "bar")

	assert.Empty(t, execute(t, term, "/vfs umnt"))
	assert.Equal(t, "", registry.MountedName())

	assert.Empty(t, execute(t, term, "/vfs mnt A"))
	assert.Empty(t, execute(t, term, "cd foo"))
	assert.Equal(t, listing, execute(t, term, "ls"),
		"the listing must survive unmount and remount")
}

func TestMountIsExclusive(t *testing.T) {
	term, registry := newSession(t)

	execute(t, term, "/vfs add A")
	execute(t, term, "/vfs add B")
	execute(t, term, "/vfs mnt A")

	output := execute(t, term, "/vfs mnt B")
	assert.Contains(t, output, vfs.ErrAlreadyMounted.Error())
	assert.Equal(t, "A", registry.MountedName(), "failed mount must not change state")
}

func TestVFSListing(t *testing.T) {
	term, _ := newSession(t)

	execute(t, term, "/vfs add alpha")
	execute(t, term, "/vfs add beta")
	execute(t, term, "/vfs mnt beta")

	listing := execute(t, term, "/vfs ls")
	assert.Contains(t, listing, "alpha")
	assert.Contains(t, listing, "beta")
	assert.Contains(t, listing, "[ Mounted ]")

	execute(t, term, "/vfs umnt")
	execute(t, term, "/vfs rm alpha")
	assert.NotContains(t, execute(t, term, "/vfs ls"), "alpha")
}

func TestExitQuits(t *testing.T) {
	term, _ := newSession(t)

	var out bytes.Buffer
	assert.True(t, term.Execute("exit", &out))
}

func TestRunLoop(t *testing.T) {
	registry := vfs.NewRegistry(t.TempDir(), map[vfs.FSType]vfs.EngineFactory{
		vfs.FSTypeFAT32: fat32.Factory(vfstesting.TinyProfile()),
	})

	input := strings.NewReader("/vfs add A\n/vfs mnt A\nmkdir foo\nexit\n")
	var output bytes.Buffer
	term := terminal.New(registry, input, &output)

	require.NoError(t, term.Run())
	assert.Contains(t, output.String(), "-> ", "unmounted prompt missing")
	assert.Contains(t, output.String(), "/> ", "mounted prompt missing")
}

func TestHelpListsCommands(t *testing.T) {
	term, _ := newSession(t)

	help := execute(t, term, "/help")
	for _, name := range []string{"/vfs", "ls", "mkdir", "cd", "touch", "cat", "rm", "mv", "cp", "exit"} {
		assert.Contains(t, help, name)
	}

	vfsHelp := execute(t, term, "/vfs")
	assert.Contains(t, vfsHelp, "mnt")
	assert.Contains(t, vfsHelp, "umnt")
}
