package encode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"cloudpico-node/internal/types"
)

// Radio frame layout (big-endian):
//
//	[0:5]   tag "MQTT:"
//	[5:37]  topic, ASCII, zero padded
//	[37:41] humidity float32
//	[41:45] temperature float32
//	[45:49] co2 uint32
//	[49:53] battery level float32
//	[53:57] lux float32
//
// The receiver has no way to tell an absent quantity from zero: absent
// values are packed as 0.
const (
	FrameTag    = "MQTT:"
	MaxTopicLen = 32
	FrameLen    = len(FrameTag) + MaxTopicLen + 5*4

	// MaxFrameLen is the radio link payload ceiling.
	MaxFrameLen = 60
)

// Fails to compile if the field widths outgrow the link payload.
var _ [MaxFrameLen - FrameLen]struct{}

var (
	ErrTopicTooLong  = fmt.Errorf("topic exceeds %d bytes", MaxTopicLen)
	ErrTopicNotASCII = errors.New("topic is not ASCII")
	ErrBadFrame      = errors.New("malformed frame")
)

const (
	offTopic    = len(FrameTag)
	offHumidity = offTopic + MaxTopicLen
	offTemp     = offHumidity + 4
	offCO2      = offTemp + 4
	offBattery  = offCO2 + 4
	offLux      = offBattery + 4
)

// ValidateTopic checks the frame's topic precondition.
func ValidateTopic(topic string) error {
	if len(topic) > MaxTopicLen {
		return ErrTopicTooLong
	}
	for i := 0; i < len(topic); i++ {
		if topic[i] > 0x7F {
			return ErrTopicNotASCII
		}
	}
	return nil
}

// Frame packs topic and r into a radio frame. The topic is checked before
// anything is written.
func Frame(topic string, r types.Reading) ([]byte, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}

	var buf [FrameLen]byte
	copy(buf[:offTopic], FrameTag)
	copy(buf[offTopic:offHumidity], topic)
	binary.BigEndian.PutUint32(buf[offHumidity:], math.Float32bits(float32(orZero(r.Humidity))))
	binary.BigEndian.PutUint32(buf[offTemp:], math.Float32bits(float32(orZero(r.Temperature))))
	var co2 uint32
	if r.CO2 != nil {
		co2 = *r.CO2
	}
	binary.BigEndian.PutUint32(buf[offCO2:], co2)
	binary.BigEndian.PutUint32(buf[offBattery:], math.Float32bits(float32(orZero(r.Battery))))
	binary.BigEndian.PutUint32(buf[offLux:], math.Float32bits(float32(orZero(r.Lux))))
	return buf[:], nil
}

// FrameValues is the receiver-side view of a frame. Every quantity is
// present because the frame cannot mark absence.
type FrameValues struct {
	Topic       string
	Humidity    float32
	Temperature float32
	CO2         uint32
	Battery     float32
	Lux         float32
}

// ParseFrame decodes a frame produced by Frame.
func ParseFrame(data []byte) (FrameValues, error) {
	if len(data) != FrameLen {
		return FrameValues{}, fmt.Errorf("%w: length %d", ErrBadFrame, len(data))
	}
	if string(data[:offTopic]) != FrameTag {
		return FrameValues{}, fmt.Errorf("%w: tag % X", ErrBadFrame, data[:offTopic])
	}
	topic := data[offTopic:offHumidity]
	for i, b := range topic {
		if b == 0 {
			topic = topic[:i]
			break
		}
	}
	return FrameValues{
		Topic:       string(topic),
		Humidity:    math.Float32frombits(binary.BigEndian.Uint32(data[offHumidity:])),
		Temperature: math.Float32frombits(binary.BigEndian.Uint32(data[offTemp:])),
		CO2:         binary.BigEndian.Uint32(data[offCO2:]),
		Battery:     math.Float32frombits(binary.BigEndian.Uint32(data[offBattery:])),
		Lux:         math.Float32frombits(binary.BigEndian.Uint32(data[offLux:])),
	}, nil
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
