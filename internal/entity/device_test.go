package entity

import (
	"errors"
	"testing"
)

func TestRegisterDeviceGeneratesID(t *testing.T) {
	rt := NewRuntime(Options{AppName: "testapp"})
	defer rt.Close()

	id, err := rt.RegisterDevice(Device{Name: "Weather Station"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("no id generated")
	}

	d, ok := rt.Device(id)
	if !ok {
		t.Fatal("registered device not found")
	}
	if d.Name != "Weather Station" {
		t.Errorf("device name = %q", d.Name)
	}
}

func TestRegisterDeviceCollision(t *testing.T) {
	rt := NewRuntime(Options{AppName: "testapp"})
	defer rt.Close()

	if _, err := rt.RegisterDevice(Device{ID: "station-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.RegisterDevice(Device{ID: "station-1"}); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate id error = %v, want ErrDeviceExists", err)
	}
}

func TestDevicesSorted(t *testing.T) {
	rt := NewRuntime(Options{AppName: "testapp"})
	defer rt.Close()

	for _, id := range []string{"c", "a", "b"} {
		if _, err := rt.RegisterDevice(Device{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	devices := rt.Devices()
	if len(devices) != 3 {
		t.Fatalf("Devices() = %d entries, want 3", len(devices))
	}
	for i, want := range []string{"a", "b", "c"} {
		if devices[i].ID != want {
			t.Errorf("Devices()[%d].ID = %q, want %q", i, devices[i].ID, want)
		}
	}
}
