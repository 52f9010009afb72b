package bluetoothutil

import "tinygo.org/x/bluetooth"

// BLE serial bridges (HM-10, JDY-08, CC41) expose the UART stream as one
// characteristic inside a vendor service.
var (
	uartServiceUUID = bluetooth.New16BitUUID(0xFFE0)
	uartDataUUID    = bluetooth.New16BitUUID(0xFFE1)
)

func UARTServiceUUID() bluetooth.UUID {
	return uartServiceUUID
}

func UARTDataUUID() bluetooth.UUID {
	return uartDataUUID
}
