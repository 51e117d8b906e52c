package shadertest

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Device wraps a WebGPU device and its submission queue. All harnesses in a
// test binary normally share the one returned by DefaultDevice; every method
// on Device is safe for concurrent use by multiple harnesses because command
// submission goes through a single wgpu queue.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// shared devices must not be destroyed by an individual harness
	shared bool
}

var (
	defaultDeviceOnce sync.Once
	defaultDevice     *Device
	defaultDeviceErr  error
)

// DefaultDevice returns the process-wide shared device, initializing it on
// first use. All harnesses created without an explicit Config.Device share
// it. The shared device is never closed; it lives for the process.
//
// The error is sticky: if initialization fails once (no GPU, no driver),
// every subsequent call returns the same error. Tests use this to skip:
//
//	h, err := shadertest.New(cfg)
//	if err != nil {
//	    t.Skipf("GPU not available: %v", err)
//	}
func DefaultDevice() (*Device, error) {
	defaultDeviceOnce.Do(func() {
		defaultDevice, defaultDeviceErr = openDevice()
		if defaultDevice != nil {
			defaultDevice.shared = true
		}
	})
	return defaultDevice, defaultDeviceErr
}

// OpenDevice creates a device the caller owns. Most tests should rely on
// DefaultDevice instead; a private device is only needed to isolate device
// loss or to target a specific adapter preference in the future.
func OpenDevice() (*Device, error) {
	return openDevice()
}

// openDevice walks the adapter preference chain: high-performance first,
// then low-power, then whatever the platform default is.
func openDevice() (*Device, error) {
	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return nil, fmt.Errorf("shadertest: create wgpu instance failed")
	}

	adapter, err := requestAdapter(instance)
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("shadertest: request adapter: %w", err)
	}

	info := adapter.GetInfo()
	Logger().Info("GPU adapter selected",
		slog.String("name", info.Name),
		slog.String("vendor", info.VendorName),
		slog.Int("type", int(info.AdapterType)))

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("shadertest: request device: %w", err)
	}

	return &Device{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
	}, nil
}

func requestAdapter(instance *wgpu.Instance) (*wgpu.Adapter, error) {
	prefs := []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	}
	var lastErr error
	for _, opts := range prefs {
		adapter, err := instance.RequestAdapter(opts)
		if err == nil && adapter != nil {
			return adapter, nil
		}
		if err != nil {
			lastErr = err
			Logger().Debug("adapter request failed, trying next preference",
				slog.Any("error", err))
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no adapter available")
	}
	return nil, lastErr
}

// Close releases the device and its adapter. Closing the shared default
// device is a no-op; it stays alive for other harnesses in the process.
func (d *Device) Close() {
	if d == nil || d.shared {
		return
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
		d.queue = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}

// poll drives device progress once. Callers loop on it while waiting for
// map callbacks or queue completion.
func (d *Device) poll() {
	d.device.Poll(false, nil)
}
