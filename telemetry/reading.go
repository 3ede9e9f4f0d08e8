package telemetry

import (
	"fmt"
	"math"
	"strconv"
)

// FieldCount is the number of sensor fields carried by every [Reading].
const FieldCount = 14

// FieldNames lists the sensor fields in frame order.
var FieldNames = [FieldCount]string{
	"co",
	"co2",
	"temperature",
	"humidity",
	"noise",
	"pm_10",
	"pm_25",
	"pm_100",
	"pm_particles_03",
	"pm_particles_05",
	"pm_particles_10",
	"pm_particles_25",
	"pm_particles_50",
	"pm_particles_100",
}

// Value is a single sensor measurement.
//
// Value marshals NaN and infinities as JSON null, and unmarshals null as NaN.
// Corrupt fields survive a round trip through JSON; infinite ones come back
// as NaN.
type Value float32

// NaN returns a Value holding NaN.
func NaN() Value {
	return Value(math.NaN())
}

// IsNaN reports whether v is NaN.
func (v Value) IsNaN() bool {
	return math.IsNaN(float64(v))
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 32), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = NaN()
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 32)
	if err != nil {
		return fmt.Errorf("invalid sensor value %s: %w", data, err)
	}
	*v = Value(f)
	return nil
}

// Reading is one set of sensor measurements from a device.
type Reading struct {
	CO             Value `json:"co"`
	CO2            Value `json:"co2"`
	Temperature    Value `json:"temperature"`
	Humidity       Value `json:"humidity"`
	Noise          Value `json:"noise"`
	PM10           Value `json:"pm_10"`
	PM25           Value `json:"pm_25"`
	PM100          Value `json:"pm_100"`
	PMParticles03  Value `json:"pm_particles_03"`
	PMParticles05  Value `json:"pm_particles_05"`
	PMParticles10  Value `json:"pm_particles_10"`
	PMParticles25  Value `json:"pm_particles_25"`
	PMParticles50  Value `json:"pm_particles_50"`
	PMParticles100 Value `json:"pm_particles_100"`
}

// NewReading builds a Reading from values in [FieldNames] order.
func NewReading(values [FieldCount]float32) Reading {
	return Reading{
		CO:             Value(values[0]),
		CO2:            Value(values[1]),
		Temperature:    Value(values[2]),
		Humidity:       Value(values[3]),
		Noise:          Value(values[4]),
		PM10:           Value(values[5]),
		PM25:           Value(values[6]),
		PM100:          Value(values[7]),
		PMParticles03:  Value(values[8]),
		PMParticles05:  Value(values[9]),
		PMParticles10:  Value(values[10]),
		PMParticles25:  Value(values[11]),
		PMParticles50:  Value(values[12]),
		PMParticles100: Value(values[13]),
	}
}

// Values returns the fields in [FieldNames] order.
func (r Reading) Values() [FieldCount]float32 {
	return [FieldCount]float32{
		float32(r.CO),
		float32(r.CO2),
		float32(r.Temperature),
		float32(r.Humidity),
		float32(r.Noise),
		float32(r.PM10),
		float32(r.PM25),
		float32(r.PM100),
		float32(r.PMParticles03),
		float32(r.PMParticles05),
		float32(r.PMParticles10),
		float32(r.PMParticles25),
		float32(r.PMParticles50),
		float32(r.PMParticles100),
	}
}

// Equal reports whether r and other hold the same measurements.
// Unlike ==, two NaN fields compare equal.
func (r Reading) Equal(other Reading) bool {
	a, b := r.Values(), other.Values()
	for i := range a {
		if math.IsNaN(float64(a[i])) && math.IsNaN(float64(b[i])) {
			continue
		}
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
