// scalargrad is the command-line tool of the scalar autograd engine.
//
// Usage:
//
//	scalargrad [reference] [-x=-4] [-check] [-dot=graph.dot]
//	scalargrad train [-steps=1000] [-set="learning_rate=0.1;..."] [-plot=plot.svg] [-points=points.jsonl] [-data=file.csv -labels=y]
//	scalargrad metrics [-names=regexp] [-types=loss,accuracy] points.jsonl
//	scalargrad version
//
// The default command, reference, builds the reference expression graph, runs the backward pass and
// prints the output value and the gradient of the input, one per line.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"k8s.io/klog/v2"
)

// Version of the tool, reported by the version command.
var Version = "v0.1.0"

// command is a sub-command of the tool: it parses its own flags from args and writes its output to w.
type command struct {
	name, description string
	run               func(w io.Writer, args []string) error
}

var commands = []command{
	{"reference", "Runs the reference graph and prints the output value and the input gradient (default).", runReference},
	{"train", "Trains a small MLP on the toy dataset, or on a CSV file.", runTrain},
	{"metrics", "Prints a table of the metrics saved during training with -points.", runMetrics},
	{"version", "Prints the version.", runVersion},
}

// newFlagSet creates the flag.FlagSet of a command, including the klog flags.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	klog.InitFlags(fs)
	return fs
}

func usage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage: scalargrad [command] [flags]\n\nCommands:\n")
	for _, cmd := range commands {
		_, _ = fmt.Fprintf(os.Stderr, "  %-10s %s\n", cmd.name, cmd.description)
	}
	_, _ = fmt.Fprintf(os.Stderr, "\nUse \"scalargrad <command> -help\" for the flags of each command.\n")
}

// findCommand returns the command named by the first argument, and the remaining arguments.
// If the first argument is a flag or there are no arguments, the reference command is used.
func findCommand(args []string) (cmd *command, rest []string, err error) {
	if len(args) == 0 || (len(args[0]) > 0 && args[0][0] == '-') {
		return &commands[0], args, nil
	}
	for ii := range commands {
		if commands[ii].name == args[0] {
			return &commands[ii], args[1:], nil
		}
	}
	return nil, nil, fmt.Errorf("unknown command %q", args[0])
}

func main() {
	defer klog.Flush()
	cmd, args, err := findCommand(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(2)
	}
	if err := cmd.run(os.Stdout, args); err != nil {
		klog.Errorf("scalargrad %s: %+v", cmd.name, err)
		klog.Flush()
		os.Exit(1)
	}
}

func runVersion(w io.Writer, args []string) error {
	fs := newFlagSet("version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "scalargrad %s", Version)
	if info, ok := debug.ReadBuildInfo(); ok {
		_, _ = fmt.Fprintf(w, " (%s, %s)", info.Main.Version, info.GoVersion)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
