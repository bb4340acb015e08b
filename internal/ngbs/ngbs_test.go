package ngbs

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr error
	}{
		{in: "modbus-tcp:10.0.0.5", want: Address{Scheme: SchemeModbusTCP, Host: "10.0.0.5"}},
		{in: "modbus-tcp:10.0.0.5:1502", want: Address{Scheme: SchemeModbusTCP, Host: "10.0.0.5:1502"}},
		{in: "service://123456@10.0.0.7", want: Address{Scheme: SchemeService, SysID: "123456", Host: "10.0.0.7"}},
		{in: "modbus-tcp:", wantErr: ErrInvalidAddress},
		{in: "10.0.0.5", wantErr: ErrUnknownScheme},
		{in: "", wantErr: ErrUnknownScheme},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestReplaceHost_KeepsSysID(t *testing.T) {
	got, err := ReplaceHost("service://123456@10.0.0.7", "192.168.1.9")
	require.NoError(t, err)
	assert.Equal(t, "service://123456@192.168.1.9", got)

	got, err = ReplaceHost("modbus-tcp:10.0.0.5", "10.0.0.6:1502")
	require.NoError(t, err)
	assert.Equal(t, "modbus-tcp:10.0.0.6:1502", got)

	got, err = ReplaceHost("service://123456@10.0.0.7", "  ")
	require.NoError(t, err)
	assert.Equal(t, "service://123456@10.0.0.7", got)
}

func TestDial_DispatchesOnScheme(t *testing.T) {
	opts := DefaultOptions()

	c, err := Dial("modbus-tcp:10.0.0.5", opts)
	require.NoError(t, err)
	require.IsType(t, &modbusClient{}, c)
	assert.Equal(t, "10.0.0.5:502", c.(*modbusClient).handler.Address)
	require.NoError(t, c.Close())

	c, err = Dial("service://42@10.0.0.7:9000", opts)
	require.NoError(t, err)
	require.IsType(t, &serviceClient{}, c)
	assert.Equal(t, "10.0.0.7:9000", c.(*serviceClient).addr)

	_, err = Dial("http://10.0.0.7", opts)
	assert.ErrorIs(t, err, ErrUnknownScheme)

	_, err = Dial("service://10.0.0.7", opts)
	assert.Equal(t, CodeInvalidSysID, CodeOf(err))
}

func TestAsError_Classification(t *testing.T) {
	assert.Nil(t, AsError(nil))
	assert.Equal(t, "", CodeOf(nil))

	coded := &Error{Code: CodeInvalidSysID, Message: "bad sysid"}
	assert.Same(t, coded, AsError(fmt.Errorf("wrapped: %w", coded)))

	assert.Equal(t, CodeOther, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeThermostatMissing, CodeOf(ErrThermostatNotFound))
	assert.Equal(t, CodeUnreachable, CodeOf(&net.OpError{Op: "dial", Err: errors.New("refused")}))

	e := AsError(errors.New("boom"))
	assert.Equal(t, "boom", e.Error())
	assert.Equal(t, "other", NewError("", nil).Error())
}

// fakeRegisters is an in-memory holding register bank.
type fakeRegisters struct {
	mu      sync.Mutex
	regs    map[uint16]uint16
	writes  []uint16
	readErr error
}

func (f *fakeRegisters) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]byte, quantity*2)
	for i := uint16(0); i < quantity; i++ {
		binary.BigEndian.PutUint16(out[i*2:], f.regs[address+i])
	}
	return out, nil
}

func (f *fakeRegisters) WriteSingleRegister(address, value uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[address] = value
	f.writes = append(f.writes, address)
	return nil, nil
}

func controllerBank() *fakeRegisters {
	neg := int16(-15)
	return &fakeRegisters{regs: map[uint16]uint16{
		0: 0x0001, 1: 0xE240, // sysid 123456
		2: 5, // hysteresis 0.5
		3: 2,
		// thermostat 1: valve + cooling, 21.3 C, 45.6 %, target 22.0
		100: uint16(flagValve | flagCooling), 101: 213, 102: 456, 103: 220, 104: 220, 105: 30,
		// thermostat 2: eco + dew, -1.5 C
		120: uint16(flagEco | flagDewProtection), 121: uint16(neg), 122: 500, 123: 180, 124: 210, 125: 50,
	}}
}

func TestModbusClient_GetState(t *testing.T) {
	c := &modbusClient{regs: controllerBank()}

	state, err := c.GetState(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, state.Config)
	assert.Equal(t, "123456", state.Config.SysID)
	assert.InDelta(t, 0.5, state.Config.Hysteresis, 1e-9)
	require.Len(t, state.Thermostats, 2)

	t1, ok := state.Thermostat("1")
	require.True(t, ok)
	assert.InDelta(t, 21.3, t1.Temperature, 1e-9)
	assert.InDelta(t, 45.6, t1.Humidity, 1e-9)
	assert.True(t, t1.Valve)
	assert.True(t, t1.Cooling)
	assert.False(t, t1.Eco)

	t2, ok := state.Thermostat("2")
	require.True(t, ok)
	assert.InDelta(t, -1.5, t2.Temperature, 1e-9)
	assert.True(t, t2.Eco)
	assert.True(t, t2.DewProtection)

	state, err = c.GetState(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, state.Config, "config only included when forced")
}

func TestModbusClient_Writes(t *testing.T) {
	bank := controllerBank()
	c := &modbusClient{regs: bank}
	ctx := context.Background()

	state, err := c.SetThermostatTarget(ctx, "2", 20.5)
	require.NoError(t, err)
	t2, _ := state.Thermostat("2")
	assert.InDelta(t, 20.5, t2.Target, 1e-9)

	_, err = c.SetThermostatCooling(ctx, "1", false)
	require.NoError(t, err)
	_, err = c.SetThermostatEco(ctx, "1", true)
	require.NoError(t, err)
	_, err = c.SetThermostatParentalLock(ctx, "1", true)
	require.NoError(t, err)
	assert.Equal(t, []uint16{123, 106, 107, 108}, bank.writes)

	_, err = c.SetThermostatTarget(ctx, "x", 20)
	assert.ErrorIs(t, err, ErrThermostatNotFound)
	assert.Equal(t, CodeThermostatMissing, CodeOf(err))
}

func TestModbusClient_ReadErrorAndClose(t *testing.T) {
	bank := controllerBank()
	bank.readErr = &net.OpError{Op: "read", Err: errors.New("reset")}
	c := &modbusClient{regs: bank}

	_, err := c.GetState(context.Background(), false)
	assert.Equal(t, CodeUnreachable, CodeOf(err))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.GetState(context.Background(), false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDecodeConfig_Implausible(t *testing.T) {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint16(raw[6:], 999)
	_, _, err := decodeConfig(raw)
	assert.Equal(t, CodeProtocol, CodeOf(err))

	_, _, err = decodeConfig(raw[:4])
	assert.Equal(t, CodeProtocol, CodeOf(err))
}

// serveOnce answers a single service-protocol request with reply.
func serveOnce(t *testing.T, reply string, got chan<- serviceRequest) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadBytes('\n')
		if err != nil {
			return
		}
		var req serviceRequest
		_ = json.Unmarshal(line, &req)
		got <- req
		_, _ = conn.Write([]byte(reply + "\n"))
	}()
	return ln.Addr().String()
}

func TestServiceClient_GetState(t *testing.T) {
	got := make(chan serviceRequest, 1)
	addr := serveOnce(t, `{"ok":true,"state":{"config":{"sysid":"42","hysteresis":0.5},"thermostats":[{"id":"a","name":"Living room","temperature":21.3}]}}`, got)

	c, err := Dial(ServiceAddress("42", addr), Options{Timeout: 2 * time.Second})
	require.NoError(t, err)

	state, err := c.GetState(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, state.Config)
	assert.Equal(t, "42", state.Config.SysID)
	th, ok := state.Thermostat("a")
	require.True(t, ok)
	assert.Equal(t, "Living room", th.Name)

	req := <-got
	assert.Equal(t, cmdGetState, req.Command)
	assert.Equal(t, "42", req.SysID)
	assert.True(t, req.ForceConfig)
}

func TestServiceClient_ErrorReply(t *testing.T) {
	got := make(chan serviceRequest, 1)
	addr := serveOnce(t, `{"ok":false,"error":{"code":"invalid_sysid","message":"unknown system"}}`, got)

	c, err := Dial(ServiceAddress("7", addr), Options{Timeout: 2 * time.Second})
	require.NoError(t, err)

	_, err = c.SetThermostatEco(context.Background(), "a", true)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidSysID, CodeOf(err))
	assert.Equal(t, "unknown system", err.Error())

	req := <-got
	assert.Equal(t, cmdSetEco, req.Command)
	assert.Equal(t, "a", req.ID)
}

func TestServiceClient_Closed(t *testing.T) {
	c, err := Dial("service://1@127.0.0.1:1", DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	_, err = c.GetState(context.Background(), false)
	assert.ErrorIs(t, err, ErrClosed)
}
