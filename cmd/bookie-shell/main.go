package main

import (
	"fmt"
	"os"

	"github.com/downfa11-org/bookie/util"
	"github.com/spf13/cobra"
)

var cmd = &cobra.Command{
	Use:   "bookie-shell",
	Short: "Inspect and repair bookie storage files",
	PersistentPreRun: func(*cobra.Command, []string) {
		util.SetLevel(util.ParseLogLevel(rootFlag.logLevel))
	},
}

var rootFlag = struct {
	logLevel string
}{}

func init() {
	cmd.PersistentFlags().StringVar(&rootFlag.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

// run executes the command line in args and returns the process exit code.
func run(args []string) int {
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func check(err error) {
	if err != nil {
		fatalf("%v", err)
	}
}

func checkf(err error, format string, otherArgs ...interface{}) {
	if err != nil {
		fatalf(format+": %v", append(otherArgs, err)...)
	}
}
