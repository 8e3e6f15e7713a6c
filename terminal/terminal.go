// Package terminal implements the interactive shell: it validates tokenized
// commands, checks they are used in the right environment (mounted or not),
// and dispatches them to the VFS registry or the mounted file system.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	vfs "github.com/RSKELT0N/VFS"
)

// Environment says where a command is allowed to run.
type Environment int

const (
	// External commands run only while no disk is mounted.
	External Environment = iota
	// Internal commands run only against a mounted file system.
	Internal
	// Hybrid commands run anywhere.
	Hybrid
)

type command struct {
	name     string
	desc     string
	env      Environment
	validate func(parts []string) error
}

// Terminal drives one interactive session over a registry.
type Terminal struct {
	registry *vfs.Registry
	in       io.Reader
	out      io.Writer
	commands []command
	byName   map[string]*command
}

// New builds a terminal reading commands from in and writing everything,
// including diagnostics, to out.
func New(registry *vfs.Registry, in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{
		registry: registry,
		in:       in,
		out:      out,
	}
	t.initCommands()
	return t
}

func arityBetween(name string, min, max int) func([]string) error {
	return func(parts []string) error {
		if len(parts) < min || len(parts) > max {
			return vfs.ErrOutOfRange.WithMessage(fmt.Sprintf(
				"%s takes between %d and %d tokens", name, min, max))
		}
		return nil
	}
}

func arityExact(name string, n int) func([]string) error {
	return arityBetween(name, n, n)
}

func arityAtLeast(name string, min int) func([]string) error {
	return func(parts []string) error {
		if len(parts) < min {
			return vfs.ErrOutOfRange.WithMessage(fmt.Sprintf(
				"%s takes at least %d tokens", name, min))
		}
		return nil
	}
}

func (t *Terminal) initCommands() {
	t.commands = []command{
		{"/help", "lists commands to enter", Hybrid, arityExact("/help", 1)},
		{"/vfs", "virtual file system commands, /vfs for help", Hybrid, arityAtLeast("/vfs", 1)},
		{"/clear", "clears the screen", Hybrid, arityExact("/clear", 1)},
		{"/fat", "prints the mounted system's FAT", Internal, arityExact("/fat", 1)},
		{"ls", "lists the current directory", Internal, arityExact("ls", 1)},
		{"mkdir", "creates a directory", Internal, arityExact("mkdir", 2)},
		{"cd", "changes the current directory", Internal, arityExact("cd", 2)},
		{"touch", "creates an empty file", Internal, arityExact("touch", 2)},
		{"cat", "prints a file's bytes", Internal, arityExact("cat", 2)},
		{"rm", "removes an entry, -r for directories with contents", Internal, arityAtLeast("rm", 2)},
		{"mv", "renames an entry or moves it into a directory", Internal, arityExact("mv", 3)},
		{"cp", "copies a file, 'cp ext <host path> <name>' imports", Internal, arityBetween("cp", 3, 4)},
		{"exit", "terminates the session", Hybrid, arityExact("exit", 1)},
	}

	t.byName = make(map[string]*command, len(t.commands))
	for i := range t.commands {
		t.byName[t.commands[i].name] = &t.commands[i]
	}
}

func (t *Terminal) prompt() string {
	if fs, mounted := t.registry.Mounted(); mounted {
		return fs.Pwd() + "> "
	}
	return "-> "
}

// Run reads and executes commands until "exit" or end of input.
func (t *Terminal) Run() error {
	fmt.Fprintf(t.out, "enter /help for cmd list\n---------------------\n")

	scanner := bufio.NewScanner(t.in)
	for {
		fmt.Fprintf(t.out, "%s", t.prompt())
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := t.Execute(line, t.out); quit {
			return nil
		}
	}
}

// Execute runs a single command line, writing output and diagnostics to out.
// It reports whether the session should end. The network front-end calls this
// through the server's worker goroutine.
func (t *Terminal) Execute(line string, out io.Writer) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	cmd, known := t.byName[parts[0]]
	if !known {
		fmt.Fprintf(out, "command is not found\n")
		return false
	}

	_, mounted := t.registry.Mounted()
	switch cmd.env {
	case Internal:
		if !mounted {
			t.warnTo(out, vfs.ErrNotMounted)
			return false
		}
	case External:
		if mounted {
			t.warnTo(out, vfs.ErrAlreadyMounted.WithMessage(
				"command is used within the wrong context"))
			return false
		}
	}

	if err := cmd.validate(parts); err != nil {
		t.warnTo(out, err)
		return false
	}

	return t.dispatch(cmd, parts, out)
}

func (t *Terminal) warnTo(out io.Writer, err error) {
	fmt.Fprintf(out, "[WARNING] %v\n", err)
}

func (t *Terminal) dispatch(cmd *command, parts []string, out io.Writer) bool {
	var err error

	switch cmd.name {
	case "/help":
		t.printHelp(out)
	case "/vfs":
		t.dispatchVFS(parts, out)
	case "/clear":
		fmt.Fprintf(out, "\033[2J\033[H")
	case "/fat":
		fs, _ := t.registry.Mounted()
		if printer, ok := fs.(interface{ PrintFAT(io.Writer) }); ok {
			printer.PrintFAT(out)
		}
	case "exit":
		return true
	default:
		err = t.dispatchMounted(cmd.name, parts, out)
	}

	if err != nil {
		t.warnTo(out, err)
	}
	return false
}

func (t *Terminal) dispatchMounted(name string, parts []string, out io.Writer) error {
	fs, _ := t.registry.Mounted()

	switch name {
	case "ls":
		return fs.Ls(out)
	case "mkdir":
		return fs.Mkdir(parts[1])
	case "cd":
		return fs.Cd(parts[1])
	case "touch":
		return fs.Touch(parts[1])
	case "cat":
		return fs.Cat(parts[1], out)
	case "rm":
		recursive := false
		for _, flag := range parts[2:] {
			if flag == "-r" {
				recursive = true
			}
		}
		return fs.Rm(parts[1], recursive)
	case "mv":
		return fs.Mv(parts[1], parts[2])
	case "cp":
		if parts[1] == "ext" {
			if len(parts) != 4 {
				return vfs.ErrOutOfRange.WithMessage("cp ext takes a host path and a name")
			}
			return fs.CpExt(parts[2], parts[3])
		}
		if len(parts) != 3 {
			return vfs.ErrOutOfRange.WithMessage("cp takes a source and a destination")
		}
		return fs.Cp(parts[1], parts[2])
	}
	return nil
}

func (t *Terminal) dispatchVFS(parts []string, out io.Writer) {
	if len(parts) == 1 {
		t.printVFSHelp(out)
		return
	}

	var err error
	switch parts[1] {
	case "ls":
		if err = arityExact("/vfs ls", 2)(parts); err == nil {
			t.registry.List(out)
		}
	case "add":
		if err = arityBetween("/vfs add", 3, 4)(parts); err == nil {
			fsType := vfs.FSType("")
			if len(parts) == 4 {
				fsType = vfs.FSType(parts[3])
			}
			err = t.registry.Add(parts[2], fsType)
		}
	case "rm":
		if err = arityExact("/vfs rm", 3)(parts); err == nil {
			err = t.registry.Remove(parts[2])
		}
	case "mnt":
		if err = arityExact("/vfs mnt", 3)(parts); err == nil {
			if err = t.registry.Mount(parts[2]); err == nil {
				t.reportLoad(out)
			}
		}
	case "umnt":
		if err = arityExact("/vfs umnt", 2)(parts); err == nil {
			err = t.registry.Unmount()
		}
	default:
		t.printVFSHelp(out)
	}

	if err != nil {
		t.warnTo(out, err)
	}
}

// reportLoad surfaces anything the engine noticed while loading the image,
// such as reclaimed in-flight clusters.
func (t *Terminal) reportLoad(out io.Writer) {
	fs, mounted := t.registry.Mounted()
	if !mounted {
		return
	}
	if reporter, ok := fs.(interface{ LoadReport() error }); ok {
		if report := reporter.LoadReport(); report != nil {
			t.warnTo(out, report)
		}
	}
}

func (t *Terminal) printHelp(out io.Writer) {
	fmt.Fprintf(out, "------  commands  ------\n")
	for _, cmd := range t.commands {
		fmt.Fprintf(out, " -> %s - %s\n", cmd.name, cmd.desc)
	}
	fmt.Fprintf(out, "------  END  ------\n")
}

func (t *Terminal) printVFSHelp(out io.Writer) {
	fmt.Fprintf(out, "------  VFS help  ------\n")
	fmt.Fprintf(out, " -> ls - lists the registered disks                        | -> [/vfs ls]\n")
	fmt.Fprintf(out, " -> add - registers a disk with the vfs                    | -> [/vfs add <DISK_NAME> <FS_TYPE>]\n")
	fmt.Fprintf(out, " -> rm - deregisters a disk and deletes its image          | -> [/vfs rm <DISK_NAME>]\n")
	fmt.Fprintf(out, " -> mnt - initialises the file system and mounts it        | -> [/vfs mnt <DISK_NAME>]\n")
	fmt.Fprintf(out, " -> umnt - unmounts the current file system                | -> [/vfs umnt]\n")
	fmt.Fprintf(out, "------  END  ------\n")
}
