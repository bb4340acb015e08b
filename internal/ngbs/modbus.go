package ngbs

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/goburrow/modbus"
)

// Holding register layout used by the Modbus adapter.
//
// This is a placeholder, not the vendor register map. The offsets have not
// been checked against NGBS documentation or hardware, and the setters
// write to them. Replace it with the vendor map before pointing the adapter
// at a real controller.
//
// Config block at 0: sysid (2 registers, big-endian), hysteresis x10,
// thermostat count. Thermostat n (1-based) occupies 20 registers from
// 100 + (n-1)*20: flags, temperature x10, humidity x10, target x10,
// midpoint x10, limit x10, then the writable cooling, eco and lock words.
const (
	regSysID        = 0
	regHysteresis   = 2
	regCount        = 3
	configRegisters = 4

	regThermostatBase   = 100
	regThermostatStride = 20
	thermostatRegisters = 6

	offFlags       = 0
	offTemperature = 1
	offHumidity    = 2
	offTarget      = 3
	offMidpoint    = 4
	offLimit       = 5
	offCooling     = 6
	offEco         = 7
	offLock        = 8

	maxThermostats = 16
)

// Flag bits of the thermostat status word.
const (
	flagValve uint16 = 1 << iota
	flagCooling
	flagEco
	flagParentalLock
	flagDewProtection
)

// registerIO is the subset of modbus.Client used by the adapter.
type registerIO interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// modbusClient talks to a controller over Modbus-TCP.
//
// Thread Safety:
//   - A mutex serialises requests; the handler is not safe for concurrent use.
type modbusClient struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	regs    registerIO
	closed  bool
}

func newModbusClient(addr string, opts Options) *modbusClient {
	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = opts.Timeout
	handler.SlaveId = opts.UnitID
	return &modbusClient{
		handler: handler,
		regs:    modbus.NewClient(handler),
	}
}

// GetState reads the config block and every thermostat. The config block is
// always read (it carries the thermostat count) but only returned when
// forceConfig is set.
func (c *modbusClient) GetState(ctx context.Context, forceConfig bool) (*State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readStateLocked(ctx, forceConfig)
}

func (c *modbusClient) readStateLocked(ctx context.Context, forceConfig bool) (*State, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := c.regs.ReadHoldingRegisters(regSysID, configRegisters)
	if err != nil {
		return nil, AsError(fmt.Errorf("reading config registers: %w", err))
	}
	cfg, count, err := decodeConfig(raw)
	if err != nil {
		return nil, err
	}

	state := &State{Thermostats: make([]Thermostat, 0, count)}
	if forceConfig {
		state.Config = cfg
	}
	for n := 1; n <= count; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := c.regs.ReadHoldingRegisters(thermostatRegister(n, 0), thermostatRegisters)
		if err != nil {
			return nil, AsError(fmt.Errorf("reading thermostat %d: %w", n, err))
		}
		t, err := decodeThermostat(n, raw)
		if err != nil {
			return nil, err
		}
		state.Thermostats = append(state.Thermostats, t)
	}
	return state, nil
}

func (c *modbusClient) SetThermostatTarget(ctx context.Context, id string, target float64) (*State, error) {
	return c.write(ctx, id, offTarget, uint16(int16(math.Round(target*10))))
}

func (c *modbusClient) SetThermostatCooling(ctx context.Context, id string, cooling bool) (*State, error) {
	return c.write(ctx, id, offCooling, boolWord(cooling))
}

func (c *modbusClient) SetThermostatEco(ctx context.Context, id string, eco bool) (*State, error) {
	return c.write(ctx, id, offEco, boolWord(eco))
}

func (c *modbusClient) SetThermostatParentalLock(ctx context.Context, id string, lock bool) (*State, error) {
	return c.write(ctx, id, offLock, boolWord(lock))
}

func (c *modbusClient) write(ctx context.Context, id string, offset, value uint16) (*State, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n < 1 || n > maxThermostats {
		return nil, NewError(CodeThermostatMissing, fmt.Errorf("%w: %q", ErrThermostatNotFound, id))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := c.regs.WriteSingleRegister(thermostatRegister(n, offset), value); err != nil {
		return nil, AsError(fmt.Errorf("writing thermostat %s: %w", id, err))
	}
	return c.readStateLocked(ctx, false)
}

// Close drops the TCP connection. Further calls fail with ErrClosed.
func (c *modbusClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.handler != nil {
		return c.handler.Close()
	}
	return nil
}

func thermostatRegister(n int, offset uint16) uint16 {
	return uint16(regThermostatBase+(n-1)*regThermostatStride) + offset
}

func decodeConfig(raw []byte) (*ControllerConfig, int, error) {
	if len(raw) < configRegisters*2 {
		return nil, 0, NewError(CodeProtocol, fmt.Errorf("short config block: %d bytes", len(raw)))
	}
	sysid := binary.BigEndian.Uint32(raw[0:4])
	count := int(binary.BigEndian.Uint16(raw[regCount*2:]))
	if count > maxThermostats {
		return nil, 0, NewError(CodeProtocol, fmt.Errorf("implausible thermostat count %d", count))
	}
	return &ControllerConfig{
		SysID:      strconv.FormatUint(uint64(sysid), 10),
		Hysteresis: tenths(raw, regHysteresis),
	}, count, nil
}

func decodeThermostat(n int, raw []byte) (Thermostat, error) {
	if len(raw) < thermostatRegisters*2 {
		return Thermostat{}, NewError(CodeProtocol, fmt.Errorf("short block for thermostat %d: %d bytes", n, len(raw)))
	}
	flags := binary.BigEndian.Uint16(raw[offFlags*2:])
	return Thermostat{
		ID:            strconv.Itoa(n),
		Temperature:   tenths(raw, offTemperature),
		Humidity:      tenths(raw, offHumidity),
		Target:        tenths(raw, offTarget),
		Midpoint:      tenths(raw, offMidpoint),
		Limit:         tenths(raw, offLimit),
		Valve:         flags&flagValve != 0,
		Cooling:       flags&flagCooling != 0,
		Eco:           flags&flagEco != 0,
		ParentalLock:  flags&flagParentalLock != 0,
		DewProtection: flags&flagDewProtection != 0,
	}, nil
}

// tenths decodes a signed register holding a value x10.
func tenths(raw []byte, reg int) float64 {
	return float64(int16(binary.BigEndian.Uint16(raw[reg*2:]))) / 10
}

func boolWord(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

// GetSysID reads the system identifier over Modbus-TCP from host.
func GetSysID(ctx context.Context, host string, opts Options) (string, error) {
	c := newModbusClient(hostPort(host, opts.ModbusPort), opts)
	defer c.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := c.regs.ReadHoldingRegisters(regSysID, configRegisters)
	if err != nil {
		return "", AsError(err)
	}
	cfg, _, err := decodeConfig(raw)
	if err != nil {
		return "", err
	}
	if cfg.SysID == "0" {
		return "", NewError(CodeInvalidSysID, fmt.Errorf("controller at %s reports no system id", host))
	}
	return cfg.SysID, nil
}
