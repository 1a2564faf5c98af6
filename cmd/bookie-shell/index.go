package main

import (
	"encoding/hex"
	"fmt"

	"github.com/downfa11-org/bookie/pkg/index"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var headerCmd = &cobra.Command{
	Use:   "header <index file>",
	Short: "Print the header of a ledger index file",
	Args:  cobra.ExactArgs(1),
	Run:   printHeader,
}

var relocateCmd = &cobra.Command{
	Use:   "relocate <index file> <new path>",
	Short: "Move a ledger index file to a new location",
	Args:  cobra.ExactArgs(2),
	Run:   relocate,
}

var recoverCmd = &cobra.Command{
	Use:   "recover <index file>",
	Short: "Finish or undo an interrupted relocation into or out of an index file",
	Args:  cobra.ExactArgs(1),
	Run:   recoverRelocation,
}

func init() {
	cmd.AddCommand(
		headerCmd,
		relocateCmd,
		recoverCmd,
	)
}

func printHeader(_ *cobra.Command, args []string) {
	fi := index.NewFileInfo(args[0], nil)
	defer func() { check(fi.Close(false)) }()

	size, err := fi.Size()
	checkf(err, "open %s", args[0])
	key, err := fi.MasterKey()
	check(err)
	fenced, err := fi.IsFenced()
	check(err)

	fmt.Printf("Path       : %s\n", fi.Path())
	fmt.Printf("Data size  : %s (%d bytes)\n", humanize.IBytes(uint64(size)), size)
	fmt.Printf("Master key : %s\n", hex.EncodeToString(key))
	fmt.Printf("Fenced     : %v\n", fenced)
}

func relocate(_ *cobra.Command, args []string) {
	fi := index.NewFileInfo(args[0], nil)
	size, err := fi.Size()
	checkf(err, "open %s", args[0])

	checkf(fi.MoveToNewLocation(args[1], size), "relocate %s", args[0])
	check(fi.Close(true))
	fmt.Printf("Moved %s (%s) to %s\n", args[0], humanize.IBytes(uint64(size)), fi.Path())
}

func recoverRelocation(_ *cobra.Command, args []string) {
	path, err := index.RecoverRelocation(args[0])
	checkf(err, "recover %s", args[0])
	fmt.Printf("Index file is at %s\n", path)
}
