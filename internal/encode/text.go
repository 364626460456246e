// Package encode serializes a reading for the active transport: a keyed
// JSON document for MQTT and a fixed-size big-endian frame for the radio.
package encode

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"

	"cloudpico-node/internal/types"
)

// ErrNothingToSend is returned when a reading has no present quantity.
var ErrNothingToSend = errors.New("nothing to send")

// Document is the text payload published over MQTT. Struct field order is
// the wire order and absent quantities are omitted.
type Document struct {
	Temperature  string `json:"temperature,omitempty"`
	Humidity     string `json:"humidity,omitempty"`
	CO2          string `json:"co2_ppm,omitempty"`
	Lux          string `json:"lux,omitempty"`
	BatteryLevel string `json:"battery_level,omitempty"`
}

// Field is a single key/value pair of a Document, in wire order.
type Field struct {
	Key   string
	Value string
}

// Text builds the MQTT document for r. Temperature and humidity carry one
// decimal digit, battery level two, CO2 and lux are integers.
func Text(r types.Reading) (Document, error) {
	var d Document
	if r.Temperature != nil {
		d.Temperature = strconv.FormatFloat(*r.Temperature, 'f', 1, 64)
	}
	if r.Humidity != nil {
		d.Humidity = strconv.FormatFloat(*r.Humidity, 'f', 1, 64)
	}
	if r.CO2 != nil {
		d.CO2 = strconv.FormatUint(uint64(*r.CO2), 10)
	}
	if r.Lux != nil {
		d.Lux = strconv.FormatInt(int64(math.Round(*r.Lux)), 10)
	}
	if r.Battery != nil {
		d.BatteryLevel = strconv.FormatFloat(*r.Battery, 'f', 2, 64)
	}
	if d.Empty() {
		return Document{}, ErrNothingToSend
	}
	return d, nil
}

// Empty reports whether the document has no fields.
func (d Document) Empty() bool {
	return len(d.Fields()) == 0
}

// Fields returns the present fields in wire order.
func (d Document) Fields() []Field {
	all := [...]Field{
		{"temperature", d.Temperature},
		{"humidity", d.Humidity},
		{"co2_ppm", d.CO2},
		{"lux", d.Lux},
		{"battery_level", d.BatteryLevel},
	}
	out := make([]Field, 0, len(all))
	for _, f := range all {
		if f.Value != "" {
			out = append(out, f)
		}
	}
	return out
}

// Marshal renders the document as JSON.
func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}
