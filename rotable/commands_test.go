package rotable

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-rotlib/axis"
	"github.com/arloliu/go-rotlib/simulator"
)

func TestTest(t *testing.T) {
	conn, dev := newScriptedConn(t)

	var ok bool
	done := async(func() error {
		var err error
		ok, err = conn.Test(context.Background())

		return err
	})
	dev.expect("test")
	dev.reply("OK\r")
	require.NoError(t, waitErr(t, done))
	assert.True(t, ok)

	done = async(func() error {
		var err error
		ok, err = conn.Test(context.Background())

		return err
	})
	dev.expect("test")
	dev.reply("ERR busy")
	require.NoError(t, waitErr(t, done))
	assert.False(t, ok)
}

func TestTest_Timeout(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev, WithTimeout(50*time.Millisecond))
	dev.SetSilent(true)

	ok, err := conn.Test(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), conn.GetMetrics().TimeoutCount.Load())
}

func TestAxisStatus(t *testing.T) {
	dev := simulator.New()
	require.Equal(t, "OK", dev.Handle("steps AZ 120 false"))
	conn := newSimConn(t, dev)

	st, err := conn.AxisStatus(context.Background(), axis.Azimuth)
	require.NoError(t, err)
	assert.Equal(t, 120, st.Position)
	assert.Equal(t, 3200, st.TotalSteps)
	assert.Equal(t, "status AZ", dev.Commands()[1])
}

func TestAxisStatus_Malformed(t *testing.T) {
	conn, dev := newScriptedConn(t)

	done := async(func() error {
		_, err := conn.AxisStatus(context.Background(), axis.Elevation)
		return err
	})
	dev.expect("status EL")
	dev.reply(`{"position":1}`)

	err := waitErr(t, done)
	require.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, axis.ErrInvalidState)
	assert.Equal(t, uint64(1), conn.GetMetrics().ProtocolErrCount.Load())
}

func TestUnknownAxis_WritesNothing(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)
	bad := axis.Name(9)
	ctx := context.Background()

	_, err := conn.AxisStatus(ctx, bad)
	assert.ErrorIs(t, err, axis.ErrUnknownAxis)
	_, err = conn.ReadHall(ctx, bad, 10)
	assert.ErrorIs(t, err, axis.ErrUnknownAxis)
	assert.ErrorIs(t, conn.MoveSteps(ctx, bad, 10), axis.ErrUnknownAxis)
	_, err = conn.ReferenceAxis(ctx, bad)
	assert.ErrorIs(t, err, axis.ErrUnknownAxis)
	assert.ErrorIs(t, conn.MoveToPosition(ctx, bad, 10), axis.ErrUnknownAxis)
	assert.ErrorIs(t, conn.MoveToAngle(ctx, bad, 1), axis.ErrUnknownAxis)

	assert.Equal(t, []string{"test"}, dev.Commands())
}

func TestReadHall(t *testing.T) {
	dev := simulator.New(simulator.WithHallValue(487.5))
	conn := newSimConn(t, dev)
	ctx := context.Background()

	v, err := conn.ReadHall(ctx, axis.Azimuth, 0)
	require.NoError(t, err)
	assert.InDelta(t, 487.5, v, 1e-12)

	_, err = conn.ReadHall(ctx, axis.Elevation, 7)
	require.NoError(t, err)

	assert.Equal(t, []string{"test", "readhall AZ 100", "readhall EL 7"}, dev.Commands())
}

func TestReadHall_Malformed(t *testing.T) {
	conn, dev := newScriptedConn(t)

	done := async(func() error {
		_, err := conn.ReadHall(context.Background(), axis.Azimuth, 5)
		return err
	})
	dev.expect("readhall AZ 5")
	dev.reply("abc")

	err := waitErr(t, done)
	require.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), `"abc"`)
}

func TestReadHall_NonFinite(t *testing.T) {
	for _, reply := range []string{"NaN", "inf", "-Infinity"} {
		t.Run(reply, func(t *testing.T) {
			conn, dev := newScriptedConn(t)

			done := async(func() error {
				_, err := conn.ReadHall(context.Background(), axis.Azimuth, 5)
				return err
			})
			dev.expect("readhall AZ 5")
			dev.reply(reply)

			require.ErrorIs(t, waitErr(t, done), ErrProtocol)
		})
	}
}

func TestMoveSteps_SignAndReverseAreEquivalent(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)
	ctx := context.Background()

	require.NoError(t, conn.MoveSteps(ctx, axis.Elevation, -5))
	require.NoError(t, conn.MoveSteps(ctx, axis.Elevation, 5, Reverse()))
	require.NoError(t, conn.MoveSteps(ctx, axis.Elevation, -5, Reverse()))
	require.NoError(t, conn.MoveSteps(ctx, axis.Elevation, 5))

	assert.Equal(t, []string{
		"test",
		"steps EL 5 true",
		"steps EL 5 true",
		"steps EL 5 false",
		"steps EL 5 false",
	}, dev.Commands())

	st, _ := dev.State(axis.Elevation)
	assert.Zero(t, st.Position)
}

func TestMoveSteps_WaitsForAck(t *testing.T) {
	conn, dev := newScriptedConn(t, WithTimeout(20*time.Millisecond))

	done := async(func() error {
		return conn.MoveSteps(context.Background(), axis.Azimuth, 1600)
	})
	dev.expect("steps AZ 1600 false")

	// a motion may take far longer than the read timeout
	time.Sleep(60 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("MoveSteps returned before the ack: %v", err)
	default:
	}

	dev.reply("moving", "stepsOK")
	require.NoError(t, waitErr(t, done))
	assert.Zero(t, conn.GetMetrics().TimeoutCount.Load())
}

func TestMoveSteps_NonBlocking(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)
	dev.SetSilent(true)

	require.NoError(t, conn.MoveSteps(context.Background(), axis.Azimuth, 10, NonBlocking()))
	assert.Eventually(t, func() bool { return len(dev.Commands()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "steps AZ 10 false", dev.Commands()[1])
}

func TestMoveSteps_ContextCancel(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)
	dev.SetSilent(true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := conn.MoveSteps(ctx, axis.Azimuth, 10)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, conn.IsClosed())
}

func TestMoveSteps_CancelledWaitDoesNotLeakLateAck(t *testing.T) {
	dev := simulator.New(simulator.WithDelay("steps", 150*time.Millisecond))
	conn := newSimConn(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := conn.MoveSteps(ctx, axis.Azimuth, 10)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, conn.IsClosed())

	_, err = conn.AxisStatus(context.Background(), axis.Azimuth)
	require.ErrorIs(t, err, ErrConnClosed)

	// a fresh connection sees replies in step again
	conn = newSimConn(t, dev)
	st, err := conn.AxisStatus(context.Background(), axis.Azimuth)
	require.NoError(t, err)
	assert.Equal(t, 3200, st.TotalSteps)

	ok, err := conn.Test(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMoveSteps_RejectsUnrepresentableCount(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)

	err := conn.MoveSteps(context.Background(), axis.Elevation, math.MinInt)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, conn.IsClosed())
	assert.Equal(t, []string{"test"}, dev.Commands())
}

func TestRequest_DiscardsLateReply(t *testing.T) {
	conn, dev := newScriptedConn(t, WithTimeout(50*time.Millisecond))

	var ok bool
	done := async(func() error {
		var err error
		ok, err = conn.Test(context.Background())

		return err
	})
	dev.expect("test")
	require.ErrorIs(t, waitErr(t, done), ErrTimeout)
	assert.False(t, ok)

	dev.reply("OK")
	require.Eventually(t, func() bool {
		return conn.GetMetrics().LineRecvCount.Load() == 2
	}, time.Second, 5*time.Millisecond)

	done = async(func() error {
		var err error
		ok, err = conn.Test(context.Background())

		return err
	})
	dev.expect("test")
	dev.reply("busy")

	require.NoError(t, waitErr(t, done))
	assert.False(t, ok)
	assert.False(t, conn.IsClosed())
}

func TestReferenceAxis_Default(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)

	ok, err := conn.ReferenceAxis(context.Background(), axis.Elevation)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{"test", "status EL", "steps EL 35 true", "reference EL"}, dev.Commands())

	st, _ := dev.State(axis.Elevation)
	assert.True(t, st.IsReferenced)
	assert.Equal(t, -35, st.ReferencePosition)
}

func TestReferenceAxis_WithoutReverse(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)

	ok, err := conn.ReferenceAxis(context.Background(), axis.Azimuth, WithReverseBeforehand(false))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"test", "reference AZ"}, dev.Commands())
}

func TestReferenceAxis_FixedReverseSteps(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)
	ctx := context.Background()

	_, err := conn.ReferenceAxis(ctx, axis.Azimuth, WithReverseSteps(-10))
	require.NoError(t, err)
	_, err = conn.ReferenceAxis(ctx, axis.Azimuth, WithReverseSteps(0))
	require.NoError(t, err)

	assert.Equal(t, []string{"test", "steps AZ 10 true", "reference AZ", "reference AZ"}, dev.Commands())
}

func TestReferenceAxis_ReverseAngleFollowsTotalSteps(t *testing.T) {
	dev := simulator.New(simulator.WithTotalSteps(6400))
	conn := newSimConn(t, dev, WithReverseAngle(math.Pi/2))

	_, err := conn.ReferenceAxis(context.Background(), axis.Elevation)
	require.NoError(t, err)
	assert.Equal(t, "steps EL 1600 true", dev.Commands()[2])
}

func TestReferenceAxis_FalseOnDeadline(t *testing.T) {
	dev := simulator.New(simulator.WithDelay("reference", 2*time.Second))
	conn := newSimConn(t, dev)

	start := time.Now()
	ok, err := conn.ReferenceAxis(context.Background(), axis.Azimuth,
		WithReverseBeforehand(false), WithReferenceTimeout(100*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReferenceAxis_DeadlineSpansNoise(t *testing.T) {
	conn, dev := newScriptedConn(t, WithTimeout(time.Second))

	var ok bool
	done := async(func() error {
		var err error
		ok, err = conn.ReferenceAxis(context.Background(), axis.Azimuth,
			WithReverseBeforehand(false), WithReferenceTimeout(150*time.Millisecond))

		return err
	})
	dev.expect("reference AZ")
	dev.reply("searching")

	require.NoError(t, waitErr(t, done))
	assert.False(t, ok)
}

func TestReferenceAxis_NoTimeoutWaits(t *testing.T) {
	dev := simulator.New(simulator.WithDelay("reference", 150*time.Millisecond))
	conn := newSimConn(t, dev, WithTimeout(20*time.Millisecond))

	ok, err := conn.ReferenceAxis(context.Background(), axis.Azimuth,
		WithReverseBeforehand(false), WithReferenceTimeout(0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMoveToPosition(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)
	ctx := context.Background()

	require.NoError(t, conn.MoveToPosition(ctx, axis.Elevation, 40, WithCurrentStep(100)))
	require.NoError(t, conn.MoveToPosition(ctx, axis.Elevation, 0))

	assert.Equal(t, []string{"test", "steps EL 60 true", "status EL", "steps EL 60 false"}, dev.Commands())
}

func TestMoveToPosition_NoopOnZeroDelta(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)
	ctx := context.Background()

	require.NoError(t, conn.MoveToPosition(ctx, axis.Azimuth, 7, WithCurrentStep(7)))
	require.NoError(t, conn.MoveToPosition(ctx, axis.Azimuth, 0))

	assert.Equal(t, []string{"test", "status AZ"}, dev.Commands())
}

func TestMoveToAngle_QuarterTurn(t *testing.T) {
	dev := simulator.New(simulator.WithAxisState(axis.Elevation, axis.State{
		TotalSteps:    3200,
		IsInitialized: true,
		IsReferenced:  true,
	}))
	conn := newSimConn(t, dev)

	require.NoError(t, conn.MoveToAngle(context.Background(), axis.Elevation, math.Pi/2))
	assert.Equal(t, []string{"test", "status EL", "steps EL 800 false"}, dev.Commands())

	st, _ := dev.State(axis.Elevation)
	assert.Equal(t, 800, st.Position)
	assert.InDelta(t, math.Pi/2, st.Angle(), 1e-12)
}

func TestMoveToAngle_NeverCrossesOppositeSide(t *testing.T) {
	dev := simulator.New(simulator.WithAxisState(axis.Azimuth, axis.State{
		TotalSteps:        3200,
		IsReferenced:      true,
		Position:          1000,
		ReferencePosition: 1000,
	}))
	conn := newSimConn(t, dev)
	ctx := context.Background()

	require.NoError(t, conn.MoveToAngle(ctx, axis.Azimuth, 3*math.Pi/2))
	st, _ := dev.State(axis.Azimuth)
	assert.Equal(t, 200, st.Position)

	require.NoError(t, conn.MoveToAngle(ctx, axis.Azimuth, -math.Pi/2))
	require.NoError(t, conn.MoveToAngle(ctx, axis.Azimuth, 0))

	assert.Equal(t, []string{
		"test",
		"status AZ", "steps AZ 800 true",
		"status AZ",
		"status AZ", "steps AZ 800 false",
	}, dev.Commands())
}

func TestMoveToAngle_RejectsNonFinite(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)

	for _, a := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := conn.MoveToAngle(context.Background(), axis.Elevation, a)
		require.ErrorIs(t, err, ErrInvalidArgument, "angle %v", a)
	}

	assert.Equal(t, []string{"test"}, dev.Commands())
	assert.False(t, conn.IsClosed())
}

func TestMetrics(t *testing.T) {
	dev := simulator.New()
	conn := newSimConn(t, dev)
	ctx := context.Background()

	_, err := conn.Test(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.MoveSteps(ctx, axis.Azimuth, 3))

	m := conn.GetMetrics()
	assert.Equal(t, uint64(3), m.CommandSendCount.Load())
	assert.Equal(t, uint64(3), m.LineRecvCount.Load())
	assert.Equal(t, uint64(3), m.AckCount.Load())
	assert.Zero(t, m.TimeoutCount.Load())
	assert.Zero(t, m.ProtocolErrCount.Load())
}
