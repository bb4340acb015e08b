// Package device stores the paired NGBS Icon thermostats.
//
// A paired device records which controller it lives on (Address), which
// thermostat it is on that controller (ThermostatID), the driver kind, the
// user settings (a host override), and the last published capability
// values and availability.
//
//	┌──────────────────┐    ┌──────────────────┐    ┌──────────────────┐
//	│     Registry     │───▶│    Repository    │    │    Validation    │
//	│ • cache + CRUD   │    │ • SQLite queries │    │ • address/kind   │
//	│ • state / health │    │ • JSON columns   │    │ • slug, settings │
//	└──────────────────┘    └──────────────────┘    └──────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dev := &device.Device{
//	    Name:         "Living room",
//	    Kind:         thermostat.KindThermostat,
//	    Address:      "service://123456@192.168.1.20",
//	    ThermostatID: "1",
//	}
//	err := registry.CreateDevice(ctx, dev)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Returned devices are deep copies.
package device
