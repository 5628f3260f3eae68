package movement

import "pacemakerfw/core"

// PortBit is the one place movement touches a hardware output directly; it
// replaces the original firmware's "pointer to an I/O register plus a bit
// mask" with an index into the teacher's GPIODriver abstraction, per the
// design note asking for a thin addr+mask wrapper. Everywhere else in this
// package references an axis or endstop by table index, never a raw pin.
type PortBit struct {
	Driver core.GPIODriver
	Pin    core.GPIOPin
	Invert bool
	bound  bool
}

// Bind attaches a driver and pin to this PortBit and configures it as an
// output. Safe to call more than once (reconfiguration).
func (p *PortBit) Bind(driver core.GPIODriver, pin core.GPIOPin, invert bool) error {
	if err := driver.ConfigureOutput(pin); err != nil {
		return err
	}
	p.Driver = driver
	p.Pin = pin
	p.Invert = invert
	p.bound = true
	return nil
}

// Bound reports whether this PortBit has been configured.
func (p *PortBit) Bound() bool {
	return p.bound
}

// Set asserts the bit's active level (active level accounts for Invert).
func (p *PortBit) Set() {
	if !p.bound {
		return
	}
	_ = p.Driver.SetPin(p.Pin, !p.Invert)
}

// Clear deasserts the bit.
func (p *PortBit) Clear() {
	if !p.bound {
		return
	}
	_ = p.Driver.SetPin(p.Pin, p.Invert)
}

// Write sets the logical (invert-adjusted) level.
func (p *PortBit) Write(on bool) {
	if on {
		p.Set()
	} else {
		p.Clear()
	}
}

// Pulse asserts then immediately deasserts the bit; the pulse width is
// the time between the two back-to-back driver writes.
func (p *PortBit) Pulse() {
	p.Set()
	p.Clear()
}

// Read reads the bit's logical (invert-adjusted) level. Used for endstop
// input PortBits.
func (p *PortBit) Read() bool {
	if !p.bound {
		return false
	}
	v := p.Driver.ReadPin(p.Pin)
	if p.Invert {
		return !v
	}
	return v
}

// BindInput attaches a driver and pin to this PortBit as a pulled input.
func (p *PortBit) BindInput(driver core.GPIODriver, pin core.GPIOPin, invert, pullUp bool) error {
	var err error
	if pullUp {
		err = driver.ConfigureInputPullUp(pin)
	} else {
		err = driver.ConfigureInputPullDown(pin)
	}
	if err != nil {
		return err
	}
	p.Driver = driver
	p.Pin = pin
	p.Invert = invert
	p.bound = true
	return nil
}
