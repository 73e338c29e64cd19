// pftrc records, inspects, and remotely controls Perfetto traces.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

func main() {
	var (
		ctx    = context.Background()
		stdin  = os.Stdin
		stdout = os.Stdout
		stderr = os.Stderr
		args   = os.Args[1:]
	)
	err := exec(ctx, stdin, stdout, stderr, args)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &(run.SignalError{})):
		os.Exit(0)
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func exec(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) (err error) {
	rootConfig := &rootConfig{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}

	rootFlags := ff.NewFlagSet("pftrc")
	rootConfig.registerBaseFlags(rootFlags)

	rootCommand := &ff.Command{
		Name:      "pftrc",
		ShortHelp: "record and inspect Perfetto traces",
		Flags:     rootFlags,
	}

	// Config for `pftrc record`.
	recordConfig := &recordConfig{rootConfig: rootConfig}
	recordFlags := ff.NewFlagSet("record").SetParent(rootFlags)
	recordConfig.register(recordFlags)
	recordCommand := &ff.Command{
		Name:      "record",
		Usage:     "pftrc record [FLAGS]",
		ShortHelp: "record a trace of a synthetic workload",
		LongHelp:  "Run a small DSP workload with tracing enabled, and dump the trace to a file.",
		Flags:     recordFlags,
		Exec:      recordConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, recordCommand)

	// Config for `pftrc inspect`.
	inspectConfig := &inspectConfig{rootConfig: rootConfig}
	inspectFlags := ff.NewFlagSet("inspect").SetParent(rootFlags)
	inspectConfig.register(inspectFlags)
	inspectCommand := &ff.Command{
		Name:      "inspect",
		Usage:     "pftrc inspect [FLAGS] FILE",
		ShortHelp: "summarize a trace file",
		Flags:     inspectFlags,
		Exec:      inspectConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, inspectCommand)

	// Config for `pftrc export`.
	exportConfig := &exportConfig{rootConfig: rootConfig}
	exportFlags := ff.NewFlagSet("export").SetParent(rootFlags)
	exportConfig.register(exportFlags)
	exportCommand := &ff.Command{
		Name:      "export",
		Usage:     "pftrc export [FLAGS] FILE",
		ShortHelp: "convert a trace file to Chrome JSON",
		Flags:     exportFlags,
		Exec:      exportConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, exportCommand)

	// Config for `pftrc serve`.
	serveConfig := &serveConfig{rootConfig: rootConfig}
	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	serveConfig.register(serveFlags)
	serveCommand := &ff.Command{
		Name:      "serve",
		Usage:     "pftrc serve [FLAGS]",
		ShortHelp: "run an HTTP server that controls tracing",
		Flags:     serveFlags,
		Exec:      serveConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, serveCommand)

	// Config for `pftrc ctl`.
	ctlConfig := &ctlConfig{rootConfig: rootConfig}
	ctlFlags := ff.NewFlagSet("ctl").SetParent(rootFlags)
	ctlConfig.register(ctlFlags)
	ctlCommand := &ff.Command{
		Name:      "ctl",
		Usage:     "pftrc ctl [FLAGS] <start|stop|status|last|stream>",
		ShortHelp: "control a remote pftrc server",
		Flags:     ctlFlags,
	}
	for _, sub := range []struct {
		name, help string
		register   func(*ff.FlagSet)
		exec       func(context.Context, []string) error
	}{
		{"start", "start a session", ctlConfig.registerStart, ctlConfig.start},
		{"stop", "stop the session and write its trace", nil, ctlConfig.stop},
		{"status", "show the session status", nil, ctlConfig.status},
		{"last", "download the last trace file", ctlConfig.registerLast, ctlConfig.last},
		{"stream", "stream live events", ctlConfig.registerStream, ctlConfig.stream},
	} {
		fs := ff.NewFlagSet(sub.name).SetParent(ctlFlags)
		if sub.register != nil {
			sub.register(fs)
		}
		ctlCommand.Subcommands = append(ctlCommand.Subcommands, &ff.Command{
			Name:      sub.name,
			Usage:     "pftrc ctl " + sub.name + " [FLAGS]",
			ShortHelp: sub.help,
			Flags:     fs,
			Exec:      sub.exec,
		})
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, ctlCommand)

	// Config for `pftrc label`.
	labelConfig := &labelConfig{rootConfig: rootConfig}
	labelFlags := ff.NewFlagSet("label").SetParent(rootFlags)
	labelConfig.register(labelFlags)
	labelCommand := &ff.Command{
		Name:      "label",
		Usage:     "pftrc label [FLAGS] [SIGNATURE ...]",
		ShortHelp: "normalize function signatures to trace labels",
		LongHelp:  "Normalize each argument, or each line of stdin if there are no arguments.",
		Flags:     labelFlags,
		Exec:      labelConfig.Exec,
	}
	rootCommand.Subcommands = append(rootCommand.Subcommands, labelCommand)

	// Print help when appropriate.
	showHelp := true
	defer func() {
		errHelp := errors.Is(err, ff.ErrHelp) || errors.Is(err, ff.ErrNoExec)
		if showHelp || errHelp {
			fmt.Fprintf(stderr, "\n%s\n", ffhelp.Command(rootCommand))
		}
		if errHelp {
			err = nil
		}
	}()

	// Initial parsing.
	if err := rootCommand.Parse(args, ff.WithEnvVarPrefix("PFTRC")); err != nil {
		return err
	}

	// Validation and set-up.
	if err := rootConfig.setupLogger(); err != nil {
		return err
	}

	// Run errors shouldn't show help by default.
	showHelp = false

	// Run the selected command.
	return rootCommand.Run(ctx)
}
