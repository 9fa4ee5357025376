package actuator

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gwillem/octoleg/pkg/dynamixel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rxPort is a serial port whose servos answer every unicast packet.
type rxPort struct {
	mu      sync.Mutex
	packets [][]byte
	rx      bytes.Buffer
	silent  bool
}

func (p *rxPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packets = append(p.packets, append([]byte(nil), b...))
	if !p.silent && b[2] != dynamixel.BroadcastID {
		if b[4] == dynamixel.InstRead {
			p.rx.Write(dynamixel.EncodeStatus(b[2], 0, 0x34, 0x01))
		} else {
			p.rx.Write(dynamixel.EncodeStatus(b[2], 0))
		}
	}
	return len(b), nil
}

func (p *rxPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rx.Len() == 0 {
		return 0, nil
	}
	return p.rx.Read(b)
}

func (p *rxPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx.Reset()
	return nil
}

func (p *rxPort) SetReadTimeout(time.Duration) error { return nil }
func (p *rxPort) Close() error                       { return nil }

func newDynamixelDriver(t *testing.T, port *rxPort) Driver {
	t.Helper()
	bus, err := dynamixel.NewBus(port, 10*time.Millisecond)
	require.NoError(t, err)
	return NewDynamixelDriver(bus)
}

func TestDynamixelDriver_WriteModes(t *testing.T) {
	port := &rxPort{silent: true}
	drv := newDynamixelDriver(t, port)
	ctx := context.Background()

	// Nobody answers, so only the fire-and-forget write succeeds.
	assert.True(t, drv.WritePosition(ctx, 3, 512, FireAndForget).OK())
	assert.Equal(t, dynamixel.CommRxTimeout, drv.WritePosition(ctx, 3, 512, Acknowledged).Comm)
	assert.Len(t, port.packets, 2)
}

func TestDynamixelDriver_Registers(t *testing.T) {
	port := &rxPort{}
	drv := newDynamixelDriver(t, port)
	ctx := context.Background()

	require.True(t, drv.SetTorque(ctx, 1, true).OK())
	require.True(t, drv.WriteRegister(ctx, 1, RegCWLimit, 205).OK())
	pos, res := drv.ReadPosition(ctx, 1)
	require.True(t, res.OK())
	assert.Equal(t, 0x0134, pos)

	require.Len(t, port.packets, 3)
	assert.Equal(t, []byte{dynamixel.AddrTorqueEnable, 1}, port.packets[0][5:7])
	assert.Equal(t, []byte{dynamixel.AddrCWAngleLimit, 205, 0}, port.packets[1][5:8])
	assert.Equal(t, []byte{dynamixel.AddrPresentPosition, 2}, port.packets[2][5:7])

	assert.Equal(t, dynamixel.CommTxError, drv.WriteRegister(ctx, 1, Register{Name: "bad", Size: 4}, 1).Comm)
}

func TestDynamixelDriver_CancelledContext(t *testing.T) {
	port := &rxPort{}
	drv := newDynamixelDriver(t, port)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := drv.SetTorque(ctx, 1, false)
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err(), context.Canceled)
	assert.Empty(t, port.packets)
}

func TestDynamixelDriver_SyncPositions(t *testing.T) {
	port := &rxPort{}
	drv := newDynamixelDriver(t, port)

	sw, ok := drv.(syncWriter)
	require.True(t, ok)
	require.True(t, sw.SyncPositions(context.Background(), map[int]int{2: 100, 1: 50}).OK())

	require.Len(t, port.packets, 1)
	pkt := port.packets[0]
	assert.Equal(t, byte(dynamixel.BroadcastID), pkt[2])
	assert.Equal(t, []byte{dynamixel.AddrGoalPosition, 2, 1, 50, 0, 2, 100, 0}, pkt[5:13])
}
