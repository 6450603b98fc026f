// Package environment drives the PPMS temperature / field controller.
//
// The Engine owns one Instrument for its whole life and runs on a dedicated
// goroutine. Two kinds of message reach it:
//
//   - Set-point requests write "TEMP <value> <rate> 0" or
//     "FIELD <value> <rate> 0", then poll "GetDat? 1" every poll interval
//     until the relevant status nibble reads 1 (stable).
//   - Condition polls read "GetDat? 2" (temperature) and "GetDat? 4"
//     (field) and log them against a tag, without changing instrument
//     state.
//
// # Status Word
//
// GetDat? 1 returns a 16-bit word of four 4-bit sub-states:
//
//	bits 0-3    temperature
//	bits 4-7    magnetic field
//	bits 8-11   sample chamber
//	bits 12-15  sample position
//
// # Transports
//
// The controller is reached over GPIB through a Prologix GPIB-USB adapter
// (OpenGPIB) or over a direct RS-232 line (OpenSerial). SimulatedPPMS
// speaks the same text protocol in memory and ramps at the commanded rate.
package environment
