package main

import (
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/urfave/cli/v2"

	vfs "github.com/RSKELT0N/VFS"
	"github.com/RSKELT0N/VFS/disks"
	"github.com/RSKELT0N/VFS/file_systems/fat32"
	"github.com/RSKELT0N/VFS/server"
	"github.com/RSKELT0N/VFS/terminal"
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	app := &cli.App{
		Name:  "vfs",
		Usage: "FAT32-style virtual file system over disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "disks-dir",
				Value: "disks",
				Usage: "directory holding the disk image files",
			},
			&cli.StringFlag{
				Name:  "profile",
				Value: "default",
				Usage: "geometry profile for newly created disks",
			},
			&cli.BoolFlag{
				Name:  "serve",
				Usage: "also accept commands over TCP",
			},
			&cli.IntFlag{
				Name:  "port",
				Value: 52000,
				Usage: "TCP port for the network front-end",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.PrintError(err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	profile, err := disks.GetProfile(ctx.String("profile"))
	if err != nil {
		return err
	}

	disksDir := ctx.String("disks-dir")
	if err := os.MkdirAll(disksDir, 0o755); err != nil {
		return err
	}

	registry := vfs.NewRegistry(disksDir, map[vfs.FSType]vfs.EngineFactory{
		vfs.FSTypeFAT32: fat32.Factory(profile),
	})

	term := terminal.New(registry, os.Stdin, os.Stdout)

	if ctx.Bool("serve") {
		srv, err := server.New(term, ctx.Int("port"), os.Stderr)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()
	}

	if err := term.Run(); err != nil {
		return err
	}

	// Leave the image consistent if the session ends while mounted.
	if _, mounted := registry.Mounted(); mounted {
		return registry.Unmount()
	}
	return nil
}
