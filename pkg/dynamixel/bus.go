package dynamixel

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// DefaultTimeout bounds the wait for a status packet.
const DefaultTimeout = 50 * time.Millisecond

// Port is the serial port a Bus talks through. go.bug.st/serial ports
// satisfy it.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Bus is a Dynamixel protocol 1.0 bus. All methods are safe for concurrent
// use; transactions are serialized.
type Bus struct {
	mu      sync.Mutex
	port    Port
	timeout time.Duration
	rx      []byte
	chunk   []byte
}

// OpenSerial opens a serial device at the given baud rate.
func OpenSerial(device string, baud int) (serial.Port, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s at %d baud", device, baud)
	}
	return port, nil
}

// NewBus wraps an open port. A zero timeout selects DefaultTimeout.
func NewBus(port Port, timeout time.Duration) (*Bus, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	// Short reads let the status loop check its deadline.
	if err := port.SetReadTimeout(timeout / 5); err != nil {
		return nil, errors.Wrap(err, "set read timeout")
	}
	return &Bus{
		port:    port,
		timeout: timeout,
		chunk:   make([]byte, 64),
	}, nil
}

// Close closes the underlying port.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port.Close()
}

// Ping checks that a servo answers and returns its model number.
func (b *Bus) Ping(id byte) (model int, comm CommResult, dev DeviceError) {
	if _, comm, dev = b.txRx(id, InstPing); comm != CommSuccess {
		return 0, comm, dev
	}
	v, comm, dev := b.Read2(id, AddrModelNumber)
	return int(v), comm, dev
}

// Write1 writes one byte to a register and waits for the status packet.
func (b *Bus) Write1(id, addr, value byte) (CommResult, DeviceError) {
	_, comm, dev := b.txRx(id, InstWrite, addr, value)
	return comm, dev
}

// Write2 writes a little-endian word to a register and waits for the
// status packet.
func (b *Bus) Write2(id, addr byte, value uint16) (CommResult, DeviceError) {
	lo, hi := word(value)
	_, comm, dev := b.txRx(id, InstWrite, addr, lo, hi)
	return comm, dev
}

// Write2NoReply queues a word write and returns without waiting for the
// servo. Any status packet it sends is discarded before the next
// acknowledged transaction.
func (b *Bus) Write2NoReply(id, addr byte, value uint16) CommResult {
	lo, hi := word(value)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tx(encodeInstruction(id, InstWrite, addr, lo, hi))
}

// Read2 reads a little-endian word from a register.
func (b *Bus) Read2(id, addr byte) (uint16, CommResult, DeviceError) {
	params, comm, dev := b.txRx(id, InstRead, addr, 2)
	if comm != CommSuccess {
		return 0, comm, dev
	}
	if len(params) != 2 {
		return 0, CommRxCorrupt, dev
	}
	return binary.LittleEndian.Uint16(params), comm, dev
}

// SyncWrite writes the same word register on several servos with one
// broadcast packet. Servos do not answer a sync write.
func (b *Bus) SyncWrite(addr byte, ids []byte, values []uint16) CommResult {
	if len(ids) != len(values) {
		return CommTxError
	}
	params := make([]byte, 0, 2+3*len(ids))
	params = append(params, addr, 2)
	for i, id := range ids {
		lo, hi := word(values[i])
		params = append(params, id, lo, hi)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tx(encodeInstruction(BroadcastID, InstSyncWrite, params...))
}

func (b *Bus) tx(packet []byte) CommResult {
	if len(packet) > 255 {
		return CommTxError
	}
	n, err := b.port.Write(packet)
	if err != nil || n != len(packet) {
		return CommTxFail
	}
	return CommSuccess
}

// txRx sends an instruction and waits for the matching status packet.
func (b *Bus) txRx(id, inst byte, params ...byte) ([]byte, CommResult, DeviceError) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id > MaxID && id != BroadcastID {
		return nil, CommNotAvailable, 0
	}

	// Drop replies left behind by fire-and-forget writes. Without the
	// flush a stale reply could be taken for this transaction's.
	if err := b.port.ResetInputBuffer(); err != nil {
		return nil, CommPortBusy, 0
	}
	b.rx = b.rx[:0]

	if comm := b.tx(encodeInstruction(id, inst, params...)); comm != CommSuccess {
		return nil, comm, 0
	}
	if id == BroadcastID {
		return nil, CommSuccess, 0
	}

	deadline := time.Now().Add(b.timeout)
	for {
		st, n, res := decodeStatus(b.rx)
		b.rx = b.rx[n:]
		switch {
		case res == CommRxCorrupt:
			return nil, res, 0
		case res == CommSuccess && st.id == id:
			return st.params, CommSuccess, st.err
		case res == CommSuccess:
			// Status from another servo; keep looking.
			continue
		}

		if time.Now().After(deadline) {
			return nil, CommRxTimeout, 0
		}
		n, err := b.port.Read(b.chunk)
		if err != nil {
			return nil, CommRxFail, 0
		}
		b.rx = append(b.rx, b.chunk[:n]...)
	}
}

func word(v uint16) (lo, hi byte) {
	return byte(v), byte(v >> 8)
}
