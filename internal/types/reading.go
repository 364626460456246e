package types

// Reading is one cycle's sensor snapshot. A nil field means no capable
// sensor produced a value this cycle; it is never a stand-in for zero.
type Reading struct {
	Temperature *float64 // °C
	Humidity    *float64 // %RH
	CO2         *uint32  // ppm
	Lux         *float64 // lx
	Battery     *float64 // cell capacity, %
}

// Empty reports whether no quantity is present.
func (r Reading) Empty() bool {
	return r.Temperature == nil &&
		r.Humidity == nil &&
		r.CO2 == nil &&
		r.Lux == nil &&
		r.Battery == nil
}
