package pci

import "testing"

type fakeConfigSpace struct {
	// devices maps a (bus,slot,func) triple to its config space words,
	// indexed by offset/4.
	devices  map[[3]uint8]map[uint8]uint32
	lastAddr uint32
}

func withFakeConfigSpace(t *testing.T) *fakeConfigSpace {
	t.Helper()
	fc := &fakeConfigSpace{devices: map[[3]uint8]map[uint8]uint32{}}

	prevOut, prevIn := outlFn, inlFn
	outlFn = func(port uint16, value uint32) {
		if port == configAddress {
			fc.lastAddr = value
			return
		}
		if port != configData {
			return
		}
		bus := uint8((fc.lastAddr >> 16) & 0xFF)
		slot := uint8((fc.lastAddr >> 11) & 0x1F)
		fn := uint8((fc.lastAddr >> 8) & 0x7)
		offset := uint8(fc.lastAddr & 0xFC)
		if regs, ok := fc.devices[[3]uint8{bus, slot, fn}]; ok {
			regs[offset] = value
		}
	}
	inlFn = func(port uint16) uint32 {
		if port != configData {
			return 0xFFFF_FFFF
		}
		bus := uint8((fc.lastAddr >> 16) & 0xFF)
		slot := uint8((fc.lastAddr >> 11) & 0x1F)
		fn := uint8((fc.lastAddr >> 8) & 0x7)
		offset := uint8(fc.lastAddr & 0xFC)

		regs, ok := fc.devices[[3]uint8{bus, slot, fn}]
		if !ok {
			return 0xFFFF_FFFF
		}
		v, ok := regs[offset]
		if !ok {
			return 0
		}
		return v
	}
	t.Cleanup(func() { outlFn, inlFn = prevOut, prevIn })
	return fc
}

func (fc *fakeConfigSpace) addDevice(bus, slot, fn uint8, vendorID, deviceID uint16, bar0 uint32) {
	fc.devices[[3]uint8{bus, slot, fn}] = map[uint8]uint32{
		offsetVendorDevice: uint32(vendorID) | uint32(deviceID)<<16,
		offsetBAR0:         bar0,
	}
}

func TestResolveFindsMatchingDevice(t *testing.T) {
	fc := withFakeConfigSpace(t)
	fc.addDevice(0, 3, 0, 0x1AF4, 0x1001, 0xC001)

	d, ok := Resolve(0x1AF4, 0x1001)
	if !ok {
		t.Fatal("Resolve did not find the seeded device")
	}
	if d.Bus != 0 || d.Slot != 3 || d.Func != 0 {
		t.Fatalf("Resolve location = bus %d slot %d func %d; want 0,3,0", d.Bus, d.Slot, d.Func)
	}
	if d.BAR[0] != 0xC001 {
		t.Fatalf("BAR[0] = %#x; want 0xC001", d.BAR[0])
	}
}

func TestResolveSkipsAbsentSlots(t *testing.T) {
	withFakeConfigSpace(t) // no devices registered at all
	_, ok := Resolve(0x1AF4, 0x1001)
	if ok {
		t.Fatal("Resolve should report false when no device matches")
	}
}

func TestResolveIgnoresWrongVendorOrDevice(t *testing.T) {
	fc := withFakeConfigSpace(t)
	fc.addDevice(0, 1, 0, 0x8086, 0x100E, 0xD000) // an e1000, not virtio-blk

	_, ok := Resolve(0x1AF4, 0x1001)
	if ok {
		t.Fatal("Resolve must not match a device with the wrong vendor/device ID")
	}
}

func TestIOBaseMasksIOSpaceBit(t *testing.T) {
	if got := IOBase(0xC001); got != 0xC000 {
		t.Fatalf("IOBase(0xC001) = %#x; want 0xC000", got)
	}
}

func TestEnableBusMasterSetsBitWithoutClobberingOthers(t *testing.T) {
	fc := withFakeConfigSpace(t)
	fc.addDevice(0, 3, 0, 0x1AF4, 0x1001, 0xC001)
	fc.devices[[3]uint8{0, 3, 0}][offsetCommand] = 0x0001 // I/O space already enabled

	EnableBusMaster(Device{Bus: 0, Slot: 3, Func: 0})

	got := fc.devices[[3]uint8{0, 3, 0}][offsetCommand]
	if got&cmdBusMaster == 0 {
		t.Fatalf("command register = %#x; bus-master bit not set", got)
	}
	if got&0x0001 == 0 {
		t.Fatalf("command register = %#x; EnableBusMaster clobbered the I/O-space bit", got)
	}
}
