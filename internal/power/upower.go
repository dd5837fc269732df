package power

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	upowerDest          = "org.freedesktop.UPower"
	upowerDisplayDevice = dbus.ObjectPath("/org/freedesktop/UPower/devices/DisplayDevice")
	upowerDeviceIface   = "org.freedesktop.UPower.Device"

	// UPower device states.
	upowerStateDischarging = uint32(2)
	upowerStateEmpty       = uint32(5)

	// UPower device type for batteries.
	upowerTypeBattery = uint32(2)
)

// UPower reads the composite display device from the UPower daemon over the
// system bus.
type UPower struct {
	conn *dbus.Conn
}

// DialUPower connects to the system bus.
func DialUPower() (*UPower, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &UPower{conn: conn}, nil
}

// Name implements Source.
func (u *UPower) Name() string { return "upower" }

// State implements Source.
func (u *UPower) State(_ context.Context) State {
	obj := u.conn.Object(upowerDest, upowerDisplayDevice)

	present, ok := property[bool](obj, "IsPresent")
	if !ok || !present {
		return State{}
	}
	if kind, ok := property[uint32](obj, "Type"); ok && kind != upowerTypeBattery {
		return State{}
	}
	percent, ok := property[float64](obj, "Percentage")
	if !ok {
		return State{}
	}
	state, _ := property[uint32](obj, "State")

	return State{
		Known:     true,
		OnBattery: state == upowerStateDischarging || state == upowerStateEmpty,
		Percent:   percent,
	}
}

// Close releases the bus connection.
func (u *UPower) Close() error {
	return u.conn.Close()
}

func property[T any](obj dbus.BusObject, name string) (T, bool) {
	var zero T
	v, err := obj.GetProperty(upowerDeviceIface + "." + name)
	if err != nil {
		return zero, false
	}
	val, ok := v.Value().(T)
	return val, ok
}
