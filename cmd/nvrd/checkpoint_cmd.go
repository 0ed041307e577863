// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/matrix-comsec-pvt-ltd/ipvs-nvrx-sub019/internal/checkpoint"
)

func runCheckpointCLI(args []string) int {
	return runCheckpoint(args, os.Stdout, os.Stderr)
}

func runCheckpoint(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printCheckpointUsage(stdout)
		return 0
	}

	switch args[0] {
	case "dump":
		return runCheckpointDump(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printCheckpointUsage(stderr)
		return 2
	}
}

func printCheckpointUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  nvrd checkpoint dump --dir DIR [--cameras N]")
}

// runCheckpointDump lists the re-encode checkpoints left behind by
// interrupted recordings.
func runCheckpointDump(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("nvrd checkpoint dump", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var dir string
	var cameras int
	fs.StringVar(&dir, "dir", "", "checkpoint directory")
	fs.IntVar(&cameras, "cameras", 255, "highest camera number to inspect")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if dir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --dir is required")
		return 2
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		_, _ = fmt.Fprintf(stderr, "Error: %s is not a directory\n", dir)
		return 2
	}

	store, err := checkpoint.NewStore(dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	records := store.LoadAll(cameras)
	if len(records) == 0 {
		_, _ = fmt.Fprintln(stdout, "no checkpoints")
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CAMERA\tHOUR")
	for cam := 1; cam <= cameras; cam++ {
		r, ok := records[cam]
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\n", cam, r.Time(time.Local).Format("2006-01-02 15:00"))
	}
	_ = tw.Flush()
	return 0
}
