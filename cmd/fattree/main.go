// Command fattree mounts a FAT image read-only and prints its directory
// tree, depth first, in the style of the Unix `tree` command.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	fatfs "github.com/go-fatfs/fatfs"
	"github.com/go-fatfs/fatfs/device"
)

func main() {
	app := &cli.App{
		Name:      "fattree",
		Usage:     "print the directory tree of a FAT12/16/32 image",
		ArgsUsage: "<image-path>",
		Action:    run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one argument: the image path", 1)
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer f.Close()

	raw, err := os.ReadFile(c.Args().First())
	if err != nil {
		return cli.Exit(err, 1)
	}
	dev := device.NewMemoryDevice(raw)

	fs, err := fatfs.Mount(dev, fatfs.MountOptions{Flags: fatfs.MountReadOnly})
	if err != nil {
		return cli.Exit(err, 1)
	}

	if err := walk(fs, "/", 0); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

func walk(fs *fatfs.FileSystem, dirPath string, depth int) error {
	entries, err := fs.ReadDir(dirPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		indent := ""
		for i := 0; i < depth; i++ {
			indent += "  "
		}
		marker := "-"
		if e.IsDirectory() {
			marker = "+"
		}
		fmt.Printf("%s%s %s\n", indent, marker, e.DisplayName())
		if e.IsDirectory() {
			childPath := dirPath
			if childPath != "/" {
				childPath += "/"
			}
			childPath += e.DisplayName()
			if err := walk(fs, childPath, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
