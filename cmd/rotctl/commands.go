package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/arloliu/go-rotlib/axis"
	"github.com/arloliu/go-rotlib/rotable"
	"github.com/arloliu/go-rotlib/serialport"
)

var errUsage = errors.New("usage")

// command is one rotctl operation, shared by the shell and one-shot mode.
type command struct {
	name  string
	usage string
	help  string
	// minArgs and maxArgs bound the argument count; maxArgs < 0 means unbounded.
	minArgs, maxArgs int
	// offline commands run without a device connection.
	offline bool
	run     func(ctx context.Context, conn *rotable.Connection, args []string, out io.Writer) error
}

func commands() []*command {
	return []*command{
		{
			name: "ports", usage: "ports", help: "list serial ports",
			offline: true,
			run:     runPorts,
		},
		{
			name: "test", usage: "test", help: "check that the device answers",
			run: runTest,
		},
		{
			name: "status", usage: "status <AZ|EL>", help: "print the state of an axis",
			minArgs: 1, maxArgs: 1,
			run: runStatus,
		},
		{
			name: "hall", usage: "hall <AZ|EL> [samples]", help: "read the averaged hall sensor value",
			minArgs: 1, maxArgs: 2,
			run: runHall,
		},
		{
			name: "steps", usage: "steps <AZ|EL> <n>", help: "move an axis by n steps, negative n moves backwards",
			minArgs: 2, maxArgs: 2,
			run: runSteps,
		},
		{
			name: "reference", usage: "reference <AZ|EL> [timeout]", help: "run the reference procedure, timeout 0 waits forever",
			minArgs: 1, maxArgs: 2,
			run: runReference,
		},
		{
			name: "goto", usage: "goto <AZ|EL> <step>", help: "move an axis to an absolute step",
			minArgs: 2, maxArgs: 2,
			run: runGoto,
		},
		{
			name: "angle", usage: "angle <AZ|EL> <degrees>", help: "move an axis to an angle relative to its reference",
			minArgs: 2, maxArgs: 2,
			run: runAngle,
		},
	}
}

func findCommand(name string) (*command, bool) {
	for _, cmd := range commands() {
		if cmd.name == name {
			return cmd, true
		}
	}

	return nil, false
}

func (c *command) checkArgs(args []string) error {
	if len(args) < c.minArgs || (c.maxArgs >= 0 && len(args) > c.maxArgs) {
		return fmt.Errorf("%w: %s", errUsage, c.usage)
	}

	return nil
}

func runPorts(_ context.Context, _ *rotable.Connection, _ []string, out io.Writer) error {
	ports, err := serialport.ListDetailed()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Fprintln(out, p)
	}

	return nil
}

func runTest(ctx context.Context, conn *rotable.Connection, _ []string, out io.Writer) error {
	ok, err := conn.Test(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("device did not acknowledge")
	}
	fmt.Fprintln(out, "OK")

	return nil
}

func runStatus(ctx context.Context, conn *rotable.Connection, args []string, out io.Writer) error {
	ax, err := axis.ParseName(args[0])
	if err != nil {
		return err
	}

	st, err := conn.AxisStatus(ctx, ax)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: position %d, reference %d, %d steps/rev, angle %.3f°\n",
		ax, st.Position, st.ReferencePosition, st.TotalSteps, mgl64.RadToDeg(st.Angle()))
	fmt.Fprintf(out, "  initialized %t, referenced %t, max rate %g rad/s\n",
		st.IsInitialized, st.IsReferenced, st.MaxAngularRate)

	return nil
}

func runHall(ctx context.Context, conn *rotable.Connection, args []string, out io.Writer) error {
	ax, err := axis.ParseName(args[0])
	if err != nil {
		return err
	}

	samples := rotable.DefaultHallSamples
	if len(args) > 1 {
		if samples, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("invalid sample count %q", args[1])
		}
	}

	v, err := conn.ReadHall(ctx, ax, samples)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s hall: %g\n", ax, v)

	return nil
}

func runSteps(ctx context.Context, conn *rotable.Connection, args []string, out io.Writer) error {
	ax, err := axis.ParseName(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid step count %q", args[1])
	}

	if err := conn.MoveSteps(ctx, ax, n); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s moved %d steps\n", ax, n)

	return nil
}

func runReference(ctx context.Context, conn *rotable.Connection, args []string, out io.Writer) error {
	ax, err := axis.ParseName(args[0])
	if err != nil {
		return err
	}

	var opts []rotable.ReferenceOption
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid timeout %q", args[1])
		}
		opts = append(opts, rotable.WithReferenceTimeout(d))
	}

	ok, err := conn.ReferenceAxis(ctx, ax, opts...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: reference not acknowledged in time", ax)
	}
	fmt.Fprintf(out, "%s referenced\n", ax)

	return nil
}

func runGoto(ctx context.Context, conn *rotable.Connection, args []string, out io.Writer) error {
	ax, err := axis.ParseName(args[0])
	if err != nil {
		return err
	}
	target, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid step %q", args[1])
	}

	if err := conn.MoveToPosition(ctx, ax, target); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s at step %d\n", ax, target)

	return nil
}

func runAngle(ctx context.Context, conn *rotable.Connection, args []string, out io.Writer) error {
	ax, err := axis.ParseName(args[0])
	if err != nil {
		return err
	}
	deg, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid angle %q", args[1])
	}

	if err := conn.MoveToAngle(ctx, ax, mgl64.DegToRad(deg)); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s at %g°\n", ax, deg)

	return nil
}
