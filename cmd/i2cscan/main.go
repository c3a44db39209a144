// Command i2cscan probes the default I2C bus for responding devices. It is a
// wiring diagnostic for the BME280: when the monitor reports the sensor as
// unavailable, run this to tell a software problem from a loose SDA wire.
package main

import (
	"fmt"
	"os"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	scanAttempts = 3
	firstAddr    = 0x08
	lastAddr     = 0x77
)

func main() {
	fmt.Println("I2C bus scanner (BME280 wiring check)")
	fmt.Println()
	fmt.Println("Expected wiring for a BME280 on a Raspberry Pi:")
	fmt.Println("  VCC/VIN -> 3.3V   (pin 1 or 17)")
	fmt.Println("  GND     -> Ground (pin 6, 9, 14, 20, 25, 30, 34 or 39)")
	fmt.Println("  SDA     -> GPIO2  (pin 3)")
	fmt.Println("  SCL     -> GPIO3  (pin 5)")
	fmt.Println()

	if _, err := host.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "host init failed: %v\n", err)
		os.Exit(1)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "open i2c bus failed: %v\n", err)
		fmt.Fprintln(os.Stderr, "is the I2C interface enabled? (raspi-config -> Interface Options -> I2C)")
		os.Exit(1)
	}
	defer bus.Close()

	fmt.Printf("bus: %s\n\n", bus)

	var found []uint16
	for attempt := 1; attempt <= scanAttempts; attempt++ {
		if attempt > 1 {
			fmt.Printf("retry %d...\n", attempt-1)
			time.Sleep(time.Second)
		}
		found = scan(bus)
		if len(found) > 0 {
			break
		}
	}

	if len(found) == 0 {
		fmt.Println("no I2C devices found")
		fmt.Println()
		fmt.Println("check that the sensor has power (VCC and GND) and that SDA/SCL")
		fmt.Println("are not swapped, then measure continuity on each jumper wire.")
		os.Exit(1)
	}

	fmt.Printf("found %d device(s):\n", len(found))
	for _, addr := range found {
		switch addr {
		case 0x76, 0x77:
			fmt.Printf("  0x%02X  <- BME280 candidate\n", addr)
		default:
			fmt.Printf("  0x%02X\n", addr)
		}
	}
}

func scan(bus i2c.Bus) []uint16 {
	var found []uint16
	buf := make([]byte, 1)
	for addr := uint16(firstAddr); addr <= lastAddr; addr++ {
		if err := bus.Tx(addr, nil, buf); err == nil {
			found = append(found, addr)
		}
	}
	return found
}
