package ngbs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/device"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/infrastructure/mqtt"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/thermostat"
)

// qosAtLeastOnce is used for everything the bridge publishes.
const qosAtLeastOnce = 1

// capabilitySink publishes the observable state of one device on MQTT and
// persists it in the device store. It implements thermostat.Capabilities.
//
// Publishing and persisting are independent: a broker outage does not stop
// the store from tracking the device, and the reverse.
type capabilitySink struct {
	deviceID string
	mqtt     MQTTClient
	topics   mqtt.Topics
	store    DeviceStore
	observer Observer
	now      func() time.Time
}

func (s *capabilitySink) SetCapabilityValue(ctx context.Context, name string, value any) error {
	pubErr := s.publish(s.topics.State(s.deviceID, name), CapabilityMessage{
		DeviceID:   s.deviceID,
		Capability: name,
		Value:      value,
		Timestamp:  s.now(),
	})
	var storeErr error
	if s.store != nil {
		storeErr = s.store.SetDeviceState(ctx, s.deviceID, device.State{name: value})
	}
	return errors.Join(pubErr, storeErr)
}

func (s *capabilitySink) SetCapabilityOptions(_ context.Context, name string, opts thermostat.RangeOptions) error {
	return s.publish(s.topics.Options(s.deviceID, name), OptionsMessage{
		DeviceID:   s.deviceID,
		Capability: name,
		Min:        opts.Min,
		Max:        opts.Max,
		Timestamp:  s.now(),
	})
}

func (s *capabilitySink) SetAvailable(ctx context.Context) error {
	return s.setAvailability(ctx, true, "")
}

func (s *capabilitySink) SetUnavailable(ctx context.Context, message string) error {
	return s.setAvailability(ctx, false, message)
}

func (s *capabilitySink) setAvailability(ctx context.Context, available bool, reason string) error {
	if s.observer != nil {
		s.observer.SetDeviceAvailable(s.deviceID, available)
	}
	pubErr := s.publish(s.topics.Availability(s.deviceID), AvailabilityMessage{
		DeviceID:  s.deviceID,
		Available: available,
		Reason:    reason,
		Timestamp: s.now(),
	})
	var storeErr error
	if s.store != nil {
		status := device.HealthStatusAvailable
		if !available {
			status = device.HealthStatusUnavailable
		}
		storeErr = s.store.SetDeviceHealth(ctx, s.deviceID, status, reason)
	}
	return errors.Join(pubErr, storeErr)
}

func (s *capabilitySink) publish(topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return s.mqtt.Publish(topic, payload, qosAtLeastOnce, s.topics.Retained(topic))
}

// clearRetained removes the retained messages of a device that is no
// longer paired.
func (s *capabilitySink) clearRetained() error {
	t := s.topics
	topics := []string{t.Availability(s.deviceID)}
	for _, c := range publishedCapabilities {
		topics = append(topics, t.State(s.deviceID, c))
	}
	topics = append(topics, t.Options(s.deviceID, thermostat.CapTargetTemperature))

	var errs []error
	for _, topic := range topics {
		if err := s.mqtt.Publish(topic, nil, qosAtLeastOnce, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var publishedCapabilities = []string{
	thermostat.CapTargetTemperature,
	thermostat.CapMeasureTemperature,
	thermostat.CapMeasureHumidity,
	thermostat.CapAlarmDew,
	thermostat.CapThermostatMode,
	thermostat.CapEcoMode,
	thermostat.CapParentalLock,
}
