package app

import (
	"fmt"
	"strings"

	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/mesh"
	"github.com/iainonline/MeshcoreTelemetrySenderHeltecV3/internal/sensor"
)

var separator = strings.Repeat("=", 60)

// formatEvent renders one inbound event as a printable block. Decoding is
// best effort: anything unexpected falls back to a hex dump rather than
// being dropped.
func formatEvent(ev mesh.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nEVENT: %s\n", separator, ev.Kind)

	switch ev.Kind {
	case mesh.EventBattery:
		if mv, ok := ev.BatteryMillivolts(); ok {
			fmt.Fprintf(&b, "  battery: %.2f V\n", float64(mv)/1000)
		} else {
			writeRaw(&b, ev)
		}
	case mesh.EventDeviceInfo, mesh.EventContactMessage, mesh.EventChannelMessage,
		mesh.EventNewContact, mesh.EventAdvertisement, mesh.EventStatusResponse:
		if txt, ok := ev.Text(); ok {
			fmt.Fprintf(&b, "  %s\n", txt)
		} else {
			writeRaw(&b, ev)
		}
	default:
		writeRaw(&b, ev)
	}

	fmt.Fprintf(&b, "%s\n", separator)
	return b.String()
}

func writeRaw(b *strings.Builder, ev mesh.Event) {
	if len(ev.Payload) == 0 {
		fmt.Fprintf(b, "  code: 0x%02X (no payload)\n", ev.Code)
		return
	}
	fmt.Fprintf(b, "  code: 0x%02X payload: % X\n", ev.Code, ev.Payload)
}

// formatReading renders one successful poll cycle.
func formatReading(r sensor.Reading) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nBME280 SENSOR READING\n", separator)
	fmt.Fprintf(&b, "  Temperature: %.2f°C (%.2f°F)\n", r.TemperatureC, r.TemperatureF())
	fmt.Fprintf(&b, "  Humidity: %.2f%%\n", r.Humidity)
	fmt.Fprintf(&b, "  Pressure: %.2f hPa\n", r.Pressure)
	fmt.Fprintf(&b, "  Altitude: %.2f m\n", r.Altitude)
	fmt.Fprintf(&b, "%s\n", separator)
	return b.String()
}
