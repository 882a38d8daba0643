package entity

import (
	"testing"
)

func TestHashOrderIndependent(t *testing.T) {
	build := func(order []string) string {
		rt := NewRuntime(Options{AppName: "testapp"})
		defer rt.Close()
		factory, err := rt.RegisterDomain(sensorDomain())
		if err != nil {
			t.Fatal(err)
		}
		for _, id := range order {
			if _, err := factory.AddEntity(EntityOptions{UniqueID: id}); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := rt.RegisterDevice(Device{ID: "device.d"}); err != nil {
			t.Fatal(err)
		}
		return rt.Hash()
	}

	forward := build([]string{"sensor.a", "sensor.b"})
	reverse := build([]string{"sensor.b", "sensor.a"})
	if forward != reverse {
		t.Errorf("hash depends on registration order: %s vs %s", forward, reverse)
	}
}

func TestHashReflectsMembership(t *testing.T) {
	rt := NewRuntime(Options{AppName: "testapp"})
	defer rt.Close()
	factory, err := rt.RegisterDomain(sensorDomain())
	if err != nil {
		t.Fatal(err)
	}

	empty := rt.Hash()
	if _, err := factory.AddEntity(EntityOptions{UniqueID: "sensor.a"}); err != nil {
		t.Fatal(err)
	}
	withEntity := rt.Hash()
	if empty == withEntity {
		t.Error("hash unchanged after adding an entity")
	}

	if _, err := rt.RegisterDevice(Device{ID: "device.d"}); err != nil {
		t.Fatal(err)
	}
	if rt.Hash() == withEntity {
		t.Error("hash unchanged after adding a device")
	}
}

func TestDumpGroupsByDomain(t *testing.T) {
	rt := NewRuntime(Options{AppName: "testapp"})
	defer rt.Close()

	sensors, err := rt.RegisterDomain(sensorDomain())
	if err != nil {
		t.Fatal(err)
	}
	switches, err := rt.RegisterDomain(Domain{Name: "switch", Keys: []KeySpec{
		{Name: "state", Kind: KindSettable, Default: false},
	}})
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"sensor.b", "sensor.a"} {
		if _, err := sensors.AddEntity(EntityOptions{UniqueID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := switches.AddEntity(EntityOptions{UniqueID: "switch.x"}); err != nil {
		t.Fatal(err)
	}

	dump := rt.Dump()
	if len(dump) != 2 {
		t.Fatalf("Dump() has %d domains, want 2", len(dump))
	}
	if len(dump["sensor"]) != 2 || len(dump["switch"]) != 1 {
		t.Fatalf("Dump() group sizes wrong: %d sensors, %d switches",
			len(dump["sensor"]), len(dump["switch"]))
	}
	if dump["sensor"][0]["unique_id"] != "sensor.a" || dump["sensor"][1]["unique_id"] != "sensor.b" {
		t.Error("Dump() entities not sorted by unique id")
	}
	if _, present := dump["sensor"][0]["state"]; !present {
		t.Error("Dump() export missing declared keys")
	}
}
