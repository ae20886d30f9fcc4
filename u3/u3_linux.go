//go:build linux && cgo

package u3

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>

typedef void * HANDLE;

typedef HANDLE (*LJUSB_OpenDevice_type)(unsigned int DevNum, unsigned int dwReserved, unsigned long ProductID);

HANDLE call_LJUSB_OpenDevice(void *func, unsigned int DevNum, unsigned int dwReserved, unsigned long ProductID) {
	return ((LJUSB_OpenDevice_type) func)(DevNum, dwReserved, ProductID);
}

typedef unsigned long (*LJUSB_Write_type)(HANDLE hDevice, unsigned char *pBuff, unsigned long count);

unsigned long call_LJUSB_Write(void *func, HANDLE hDevice, unsigned char *pBuff, unsigned long count) {
	return ((LJUSB_Write_type) func)(hDevice, pBuff, count);
}

typedef unsigned long (*LJUSB_Read_type)(HANDLE hDevice, unsigned char *pBuff, unsigned long count);

unsigned long call_LJUSB_Read(void *func, HANDLE hDevice, unsigned char *pBuff, unsigned long count) {
	return ((LJUSB_Read_type) func)(hDevice, pBuff, count);
}

typedef void (*LJUSB_CloseDevice_type)(HANDLE hDevice);

void call_LJUSB_CloseDevice(void *func, HANDLE hDevice) {
	((LJUSB_CloseDevice_type) func)(hDevice);
}

typedef unsigned int (*LJUSB_GetDevCount_type)(unsigned long ProductID);

unsigned int call_LJUSB_GetDevCount(void *func, unsigned long ProductID) {
	return ((LJUSB_GetDevCount_type) func)(ProductID);
}
*/
import "C"
import (
	"fmt"
	"sync"
	"unsafe"
)

const (
	// USB product ID of the U3 family.
	u3ProductID = 3

	symbolOpenDevice  = "LJUSB_OpenDevice"
	symbolWrite       = "LJUSB_Write"
	symbolRead        = "LJUSB_Read"
	symbolCloseDevice = "LJUSB_CloseDevice"
	symbolGetDevCount = "LJUSB_GetDevCount"
)

var (
	// once protects the one-time exodriver load.
	once    sync.Once
	initErr error

	ljusbOpenDevice  func(devNum uint32) (uintptr, error)
	ljusbWrite       func(handle uintptr, buf []byte) (int, error)
	ljusbRead        func(handle uintptr, buf []byte) (int, error)
	ljusbCloseDevice func(handle uintptr)
	ljusbGetDevCount func() uint32
)

func load() error {
	once.Do(func() {
		initErr = platformInit()
	})
	return initErr
}

func platformInit() error {
	lib := C.dlopen(C.CString("liblabjackusb.so"), C.RTLD_LAZY)
	if lib == nil {
		return fmt.Errorf("failed opening exodriver library liblabjackusb.so")
	}
	resolved := map[string]unsafe.Pointer{}
	for _, sym := range []string{
		symbolOpenDevice,
		symbolWrite,
		symbolRead,
		symbolCloseDevice,
		symbolGetDevCount,
	} {
		symbol := C.dlsym(lib, C.CString(sym))
		if symbol == nil {
			return fmt.Errorf("failed resolving required symbol %q", sym)
		}
		resolved[sym] = symbol
	}
	open := resolved[symbolOpenDevice]
	ljusbOpenDevice = func(devNum uint32) (uintptr, error) {
		h := C.call_LJUSB_OpenDevice(open, C.uint(devNum), 0, u3ProductID)
		if h == nil {
			return 0, fmt.Errorf("no U3 device at index %d", devNum)
		}
		return uintptr(h), nil
	}
	write := resolved[symbolWrite]
	ljusbWrite = func(handle uintptr, buf []byte) (int, error) {
		n := C.call_LJUSB_Write(
			write,
			C.HANDLE(unsafe.Pointer(handle)),
			(*C.uchar)(unsafe.Pointer(&buf[0])),
			C.ulong(len(buf)),
		)
		if int(n) != len(buf) {
			return int(n), fmt.Errorf("short write to U3: %d of %d bytes", int(n), len(buf))
		}
		return int(n), nil
	}
	read := resolved[symbolRead]
	ljusbRead = func(handle uintptr, buf []byte) (int, error) {
		n := C.call_LJUSB_Read(
			read,
			C.HANDLE(unsafe.Pointer(handle)),
			(*C.uchar)(unsafe.Pointer(&buf[0])),
			C.ulong(len(buf)),
		)
		if n == 0 {
			return 0, fmt.Errorf("read from U3 failed")
		}
		return int(n), nil
	}
	closeDev := resolved[symbolCloseDevice]
	ljusbCloseDevice = func(handle uintptr) {
		C.call_LJUSB_CloseDevice(closeDev, C.HANDLE(unsafe.Pointer(handle)))
	}
	count := resolved[symbolGetDevCount]
	ljusbGetDevCount = func() uint32 {
		return uint32(C.call_LJUSB_GetDevCount(count, u3ProductID))
	}
	return nil
}

// Open connects to the first U3 found on USB.
func Open() (Device, error) {
	if err := load(); err != nil {
		return nil, err
	}
	if ljusbGetDevCount() == 0 {
		return nil, fmt.Errorf("no U3 device connected")
	}
	handle, err := ljusbOpenDevice(1)
	if err != nil {
		return nil, err
	}
	dev := &usbDevice{handle: handle}
	if _, err := dev.Config(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("U3 did not answer ConfigU3: %w", err)
	}
	if err := dev.configIO(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed configuring U3 IO: %w", err)
	}
	return dev, nil
}

// usbDevice talks the U3 low-level command protocol over the exodriver.
// Commands are checksummed frames; extended commands carry a checksum16
// over the data area. Feedback (command 0x00) multiplexes per-channel
// IOTypes in a single round trip.
type usbDevice struct {
	mu      sync.Mutex
	handle  uintptr
	config  ConfigInfo
	haveCfg bool
}

// Nominal conversion constants for the U3-HV, applied in place of the
// per-unit factory calibration block. Close enough for display purposes;
// precision work should burn the real calibration into the formula.
const (
	hvAINSlope  = 0.000305180
	hvAINOffset = -10.5869565
	tempSlopeK  = 0.013021
)

const (
	ioTypeAIN           = 1
	ioTypeBitStateRead  = 10
	ioTypeBitStateWrite = 11
	ioTypeBitDirWrite   = 13
)

func checksum8(data []byte) byte {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	sum = (sum / 256) + (sum % 256)
	sum = (sum / 256) + (sum % 256)
	return byte(sum)
}

func checksum16(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// command performs one extended-command round trip and validates the
// response framing.
func (d *usbDevice) command(cmdNumber byte, data []byte, respLen int) ([]byte, error) {
	if len(data)%2 != 0 {
		data = append(data, 0)
	}
	frame := make([]byte, 6+len(data))
	frame[1] = 0xF8
	frame[2] = byte(len(data) / 2)
	frame[3] = cmdNumber
	copy(frame[6:], data)
	c16 := checksum16(frame[6:])
	frame[4] = byte(c16 & 0xFF)
	frame[5] = byte(c16 >> 8)
	frame[0] = checksum8(frame[1:6])

	if _, err := ljusbWrite(d.handle, frame); err != nil {
		return nil, err
	}
	resp := make([]byte, respLen)
	if _, err := ljusbRead(d.handle, resp); err != nil {
		return nil, err
	}
	if resp[1] != 0xF8 {
		return nil, fmt.Errorf("unexpected response command byte 0x%02x", resp[1])
	}
	if resp[0] != checksum8(resp[1:6]) {
		return nil, fmt.Errorf("bad response checksum")
	}
	if errcode := resp[6]; errcode != 0 {
		return nil, fmt.Errorf("U3 errorcode %d (frame %d)", errcode, resp[7])
	}
	return resp, nil
}

// Config issues ConfigU3 and caches the result.
func (d *usbDevice) Config() (ConfigInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.haveCfg {
		return d.config, nil
	}
	// ConfigU3: command 0x08, 20 data bytes out, 38-byte response.
	resp, err := d.command(0x08, make([]byte, 20), 38)
	if err != nil {
		return ConfigInfo{}, err
	}
	cfg := ConfigInfo{
		FirmwareVersion: fmt.Sprintf("%d.%02d", resp[10], resp[9]),
		HardwareVersion: fmt.Sprintf("%d.%02d", resp[14], resp[13]),
		SerialNumber: uint32(resp[15]) |
			uint32(resp[16])<<8 |
			uint32(resp[17])<<16 |
			uint32(resp[18])<<24,
		LocalID: resp[21],
	}
	// Bit 4 of VersionInfo distinguishes the HV variant.
	if resp[37]&0x12 == 0x12 {
		cfg.DeviceName = "U3-HV"
	} else {
		cfg.DeviceName = "U3-LV"
	}
	d.config = cfg
	d.haveCfg = true
	return cfg, nil
}

// configIO sets FIO0-3 analog and FIO4-7 digital, matching the valve
// wiring this application expects.
func (d *usbDevice) configIO() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	// ConfigIO: command 0x0B. WriteMask bit 2 selects FIOAnalog.
	data := make([]byte, 6)
	data[0] = 1 << 2   // write FIOAnalog
	data[4] = 0x0F     // FIO0-3 analog, FIO4-7 digital
	_, err := d.command(0x0B, data, 12)
	return err
}

// feedback runs a Feedback command (0x00) with the given IOType payload
// and returns the response data area (beginning at byte 9).
func (d *usbDevice) feedback(iodata []byte, respDataLen int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data := append([]byte{0}, iodata...) // byte 6 of the frame is Echo
	respLen := 9 + respDataLen
	if respLen%2 != 0 {
		respLen++
	}
	resp, err := d.command(0x00, data, respLen)
	if err != nil {
		return nil, err
	}
	return resp[9:], nil
}

// AIN reads a single-ended analog input.
func (d *usbDevice) AIN(channel int) (float64, error) {
	if channel < 0 || channel > 3 {
		return 0, fmt.Errorf("analog channel %d out of range", channel)
	}
	// AIN IOType: positive channel, negative channel 31 = single-ended.
	resp, err := d.feedback([]byte{ioTypeAIN, byte(channel), 31}, 2)
	if err != nil {
		return 0, err
	}
	raw := uint16(resp[0]) | uint16(resp[1])<<8
	return float64(raw)*hvAINSlope + hvAINOffset, nil
}

// Temperature reads the internal sensor (channel 30), in kelvin.
func (d *usbDevice) Temperature() (float64, error) {
	resp, err := d.feedback([]byte{ioTypeAIN, 30, 31}, 2)
	if err != nil {
		return 0, err
	}
	raw := uint16(resp[0]) | uint16(resp[1])<<8
	return float64(raw) * tempSlopeK, nil
}

func (d *usbDevice) FIOState(fio int) (bool, error) {
	if fio < FirstValveFIO || fio > LastValveFIO {
		return false, fmt.Errorf("FIO%d is not a valve line", fio)
	}
	resp, err := d.feedback([]byte{ioTypeBitStateRead, byte(fio)}, 1)
	if err != nil {
		return false, err
	}
	return resp[0]&1 == 1, nil
}

func (d *usbDevice) SetFIOState(fio int, high bool) error {
	if fio < FirstValveFIO || fio > LastValveFIO {
		return fmt.Errorf("FIO%d is not a valve line", fio)
	}
	bits := byte(fio)
	if high {
		bits |= 1 << 7
	}
	// Force the line to output before driving it.
	_, err := d.feedback([]byte{
		ioTypeBitDirWrite, byte(fio) | 1<<7,
		ioTypeBitStateWrite, bits,
	}, 0)
	return err
}

func (d *usbDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != 0 {
		ljusbCloseDevice(d.handle)
		d.handle = 0
	}
	return nil
}

var _ Device = (*usbDevice)(nil)
