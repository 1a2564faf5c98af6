package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/downfa11-org/bookie/pkg/disk"
	"github.com/downfa11-org/bookie/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <entry log>",
	Short: "List the entries of an entry log",
	Args:  cobra.ExactArgs(1),
	Run:   scanLog,
}

var scanFlag = struct {
	ledger int64
	quiet  bool
}{}

func init() {
	cmd.AddCommand(scanCmd)
	scanCmd.Flags().Int64Var(&scanFlag.ledger, "ledger", -1, "Only list entries of this ledger")
	scanCmd.Flags().BoolVarP(&scanFlag.quiet, "quiet", "q", false, "Only print totals")
}

func scanLog(_ *cobra.Command, args []string) {
	name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	logID, err := strconv.ParseUint(name, 16, 64)
	checkf(err, "entry log name %s", args[0])

	var count, bytes uint64
	err = disk.ScanEntryLog(args[0], logID, func(e *types.Entry) error {
		if scanFlag.ledger >= 0 && e.LedgerID != uint64(scanFlag.ledger) {
			return nil
		}
		count++
		bytes += uint64(len(e.Payload))
		if !scanFlag.quiet {
			fmt.Printf("%x@%d\tledger %d\tentry %d\t%s\n", e.Location.LogID, e.Location.Offset, e.LedgerID, e.EntryID, humanize.IBytes(uint64(len(e.Payload))))
		}
		return nil
	})
	checkf(err, "scan %s", args[0])

	fmt.Printf("%s entries, %s of payload\n", humanize.Comma(int64(count)), humanize.IBytes(bytes))
}
