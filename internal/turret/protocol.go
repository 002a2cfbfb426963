package turret

import "fmt"

// ShutdownCommand stops every motor and releases the trigger.
const ShutdownCommand = "z0000000"

// CommandLength is the fixed width of every command on the wire.
const CommandLength = 8

// EncodeCommand builds the move/fire command: 'a', pan and tilt as three
// zero-padded digits each, then the fire flag.
func EncodeCommand(pan, tilt int, firing bool) string {
	fire := 0
	if firing {
		fire = 1
	}
	return fmt.Sprintf("a%03d%03d%d", pan, tilt, fire)
}
