package movement

import "pacemakerfw/core"

// init stubs the target-specific ADC HAL core.ADCSetup/core.ADCSample
// normally wired by targets/*/adc.go, so SoftPWM.ConfigureSensor and Fire
// can run against a fake converter in these host-side tests.
func init() {
	core.ADCSetup = func(pin uint32) error { return nil }
	core.ADCSample = func(pin uint32) (uint16, bool) { return 0, true }
}

// fakeGPIODriver is an in-memory core.GPIODriver for exercising PortBit,
// AxisTable and EndstopTable without real hardware.
type fakeGPIODriver struct {
	state map[core.GPIOPin]bool
}

func newFakeGPIODriver() *fakeGPIODriver {
	return &fakeGPIODriver{state: make(map[core.GPIOPin]bool)}
}

func (f *fakeGPIODriver) ConfigureOutput(pin core.GPIOPin) error         { return nil }
func (f *fakeGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error    { return nil }
func (f *fakeGPIODriver) ConfigureInputPullDown(pin core.GPIOPin) error  { return nil }

func (f *fakeGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	f.state[pin] = value
	return nil
}

func (f *fakeGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	return f.state[pin], nil
}

func (f *fakeGPIODriver) ReadPin(pin core.GPIOPin) bool {
	return f.state[pin]
}

// set lets a test directly force an input pin's level (simulating an
// endstop switch), bypassing SetPin's "driver wrote it" semantics.
func (f *fakeGPIODriver) set(pin core.GPIOPin, value bool) {
	f.state[pin] = value
}
