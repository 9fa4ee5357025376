// Package dynamixel speaks Dynamixel protocol 1.0 to AX/RX series servos
// over a half-duplex serial bus.
package dynamixel

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Packet framing.
const (
	header      = 0xFF
	BroadcastID = 0xFE
	MaxID       = 0xFD
)

// Instructions.
const (
	InstPing      = 0x01
	InstRead      = 0x02
	InstWrite     = 0x03
	InstSyncWrite = 0x83
)

// Control table addresses for the RX-24F.
const (
	AddrModelNumber     = 0
	AddrID              = 3
	AddrBaudRate        = 4
	AddrCWAngleLimit    = 6
	AddrCCWAngleLimit   = 8
	AddrTorqueEnable    = 24
	AddrGoalPosition    = 30
	AddrMovingSpeed     = 32
	AddrTorqueLimit     = 34
	AddrPresentPosition = 36
)

// CommResult is the outcome of one bus transaction. Values follow the
// numbering of the vendor SDK so logs line up with its tools.
type CommResult int

const (
	CommSuccess      CommResult = 0
	CommPortBusy     CommResult = -1000
	CommTxFail       CommResult = -1001
	CommRxFail       CommResult = -1002
	CommTxError      CommResult = -2000
	CommRxWaiting    CommResult = -3000
	CommRxTimeout    CommResult = -3001
	CommRxCorrupt    CommResult = -3002
	CommNotAvailable CommResult = -9000
)

func (r CommResult) String() string {
	switch r {
	case CommSuccess:
		return "success"
	case CommPortBusy:
		return "port busy"
	case CommTxFail:
		return "tx failed"
	case CommRxFail:
		return "rx failed"
	case CommTxError:
		return "incorrect instruction packet"
	case CommRxWaiting:
		return "rx waiting"
	case CommRxTimeout:
		return "rx timeout"
	case CommRxCorrupt:
		return "rx corrupt"
	case CommNotAvailable:
		return "not available"
	}
	return fmt.Sprintf("comm(%d)", int(r))
}

// DeviceError is the error byte a servo reports in its status packet.
type DeviceError byte

const (
	ErrInputVoltage DeviceError = 1 << iota
	ErrAngleLimit
	ErrOverheating
	ErrRange
	ErrChecksum
	ErrOverload
	ErrInstruction
)

var deviceErrorNames = []string{
	"input voltage",
	"angle limit",
	"overheating",
	"range",
	"checksum",
	"overload",
	"instruction",
}

func (e DeviceError) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for i, name := range deviceErrorNames {
		if e&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Error returns an error describing a failed transaction, or nil when the
// transaction succeeded and the device reported no error.
func Error(comm CommResult, dev DeviceError) error {
	if comm == CommSuccess && dev == 0 {
		return nil
	}
	return &TxRxError{Comm: comm, Device: dev}
}

// TxRxError carries the raw codes of a failed transaction.
type TxRxError struct {
	Comm   CommResult
	Device DeviceError
}

func (e *TxRxError) Error() string {
	if e.Comm != CommSuccess {
		return fmt.Sprintf("comm %d (%s)", int(e.Comm), e.Comm)
	}
	return fmt.Sprintf("device error 0x%02x (%s)", byte(e.Device), e.Device)
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return ^sum
}

// encodeInstruction builds [0xFF, 0xFF, ID, LENGTH, INSTRUCTION, ...PARAMS, CHECKSUM].
func encodeInstruction(id, inst byte, params ...byte) []byte {
	packet := make([]byte, 0, 6+len(params))
	packet = append(packet, header, header, id, byte(len(params)+2), inst)
	packet = append(packet, params...)
	return append(packet, checksum(packet[2:]))
}

// EncodeStatus builds a status packet as a servo would send it.
func EncodeStatus(id byte, dev DeviceError, params ...byte) []byte {
	packet := make([]byte, 0, 6+len(params))
	packet = append(packet, header, header, id, byte(len(params)+2), byte(dev))
	packet = append(packet, params...)
	return append(packet, checksum(packet[2:]))
}

type status struct {
	id     byte
	err    DeviceError
	params []byte
}

// decodeStatus looks for one status packet at the start of buf, skipping
// leading noise. It returns the number of bytes consumed; n == 0 with
// CommRxWaiting means more input is needed.
func decodeStatus(buf []byte) (st status, n int, res CommResult) {
	start := 0
	for start+1 < len(buf) && (buf[start] != header || buf[start+1] != header) {
		start++
	}
	if start+4 > len(buf) {
		return status{}, start, CommRxWaiting
	}
	// Dynamixel allows a third 0xFF before the id.
	if buf[start+2] == header {
		start++
		if start+4 > len(buf) {
			return status{}, start, CommRxWaiting
		}
	}

	length := int(buf[start+3])
	if length < 2 {
		return status{}, start + 2, CommRxCorrupt
	}
	total := 4 + length
	if start+total > len(buf) {
		return status{}, start, CommRxWaiting
	}

	pkt := buf[start : start+total]
	if checksum(pkt[2:total-1]) != pkt[total-1] {
		return status{}, start + total, CommRxCorrupt
	}
	params := make([]byte, length-2)
	copy(params, pkt[5:total-1])
	return status{id: pkt[2], err: DeviceError(pkt[4]), params: params}, start + total, CommSuccess
}

// BaudValue returns the BaudRate register value for a bus speed.
func BaudValue(baud int) (byte, error) {
	if baud <= 0 {
		return 0, errors.Errorf("invalid baud rate %d", baud)
	}
	v := int(2000000.0/float64(baud) - 1.0 + 0.5)
	if v < 0 || v > 255 {
		return 0, errors.Errorf("baud rate %d out of range for the baud register (value %d)", baud, v)
	}
	return byte(v), nil
}
