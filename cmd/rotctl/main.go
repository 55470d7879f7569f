// Command rotctl drives a rotation table from the terminal.
//
// Without arguments it starts an interactive shell; otherwise the arguments
// name a single command to run:
//
//	rotctl -port /dev/ttyUSB0 status EL
//	rotctl -port /dev/ttyUSB0 angle EL 90
//	rotctl -simulate
//
// Settings are read from an optional YAML file (-config), then from ROTCTL_*
// environment variables, then from flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/abiosoft/ishell"

	"github.com/arloliu/go-rotlib/logger"
	"github.com/arloliu/go-rotlib/rotable"
	"github.com/arloliu/go-rotlib/simulator"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rotctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path of a YAML config file")
	port := fs.String("port", "", "serial port of the rotation table")
	baud := fs.Int("baud", 0, "baud rate (default 115200)")
	verbose := fs.Bool("verbose", false, "log every line sent and received")
	simulate := fs.Bool("simulate", false, "talk to an in-process simulated device")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, nil)
	if err != nil {
		fmt.Fprintln(stderr, "rotctl:", err)
		return 1
	}
	applyFlags(fs, &cfg, *port, *baud, *verbose, *simulate)

	log := cfg.newLogger()
	logger.SetLogger(log)

	rcfg, err := cfg.rotableConfig(log)
	if err != nil {
		fmt.Fprintln(stderr, "rotctl:", err)
		return 1
	}

	a := newApp(cfg, rcfg)
	defer a.close()

	if fs.NArg() == 0 {
		a.runShell()
		return 0
	}

	ctx, stop := commandContext()
	defer stop()

	if err := a.exec(ctx, fs.Arg(0), fs.Args()[1:], stdout); err != nil {
		fmt.Fprintln(stderr, "rotctl:", err)
		return 1
	}

	return 0
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(fs *flag.FlagSet, cfg *cliConfig, port string, baud int, verbose, simulate bool) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = port
		case "baud":
			cfg.BaudRate = baud
		case "verbose":
			cfg.Verbose = verbose
		case "simulate":
			cfg.Simulate = simulate
		}
	})
}

// app owns the device connection, opened on first use.
type app struct {
	cfg  cliConfig
	rcfg *rotable.Config

	mu   sync.Mutex
	conn *rotable.Connection
}

func newApp(cfg cliConfig, rcfg *rotable.Config) *app {
	return &app{cfg: cfg, rcfg: rcfg}
}

func (a *app) connection(ctx context.Context) (*rotable.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil && !a.conn.IsClosed() {
		return a.conn, nil
	}

	var (
		conn *rotable.Connection
		err  error
	)
	if a.cfg.Simulate {
		dev := simulator.New(simulator.WithLogger(a.rcfg.GetLogger()))
		conn, err = rotable.Open(ctx, dev.Pipe(context.Background()), a.rcfg)
	} else {
		conn, err = rotable.Dial(ctx, a.cfg.Port, a.rcfg)
	}
	if err != nil {
		return nil, err
	}
	a.conn = conn

	return conn, nil
}

func (a *app) exec(ctx context.Context, name string, args []string, out io.Writer) error {
	cmd, ok := findCommand(name)
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if err := cmd.checkArgs(args); err != nil {
		return err
	}

	var conn *rotable.Connection
	if !cmd.offline {
		var err error
		if conn, err = a.connection(ctx); err != nil {
			return err
		}
	}

	return cmd.run(ctx, conn, args, out)
}

func (a *app) close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		_ = a.conn.Close()
	}
}

// commandContext returns a context cancelled by the next interrupt.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// runShell runs the interactive shell. Every command gets its own interrupt
// context, so Ctrl-C aborts the running command and the shell stays usable.
// An aborted wait closes the connection; the next command reconnects.
func (a *app) runShell() {
	shell := ishell.New()
	if a.cfg.Simulate {
		shell.Println("rotctl (simulated device)")
	} else {
		shell.Println("rotctl on " + a.cfg.Port)
	}

	for _, cmd := range commands() {
		shell.AddCmd(&ishell.Cmd{
			Name: cmd.name,
			Help: cmd.usage + ": " + cmd.help,
			Func: func(c *ishell.Context) {
				ctx, stop := commandContext()
				defer stop()

				if err := a.exec(ctx, cmd.name, c.Args, shellWriter{c}); err != nil {
					c.Err(err)
				}
			},
		})
	}

	shell.Run()
}

// shellWriter prints through the shell so output does not garble the prompt.
type shellWriter struct {
	c *ishell.Context
}

func (w shellWriter) Write(p []byte) (int, error) {
	w.c.Print(string(p))

	return len(p), nil
}
