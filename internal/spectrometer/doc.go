// Package spectrometer implements the acquisition engine for the pulse
// generator / digitizer.
//
// The engine owns one Device handle for its whole life and executes one
// NMR command at a time on a dedicated goroutine. Callers submit commands as
// messages and read progress from an event channel; they never touch the
// Device directly.
//
// # Register Map
//
//	reg 0     enable (1 = generating and digitizing)
//	reg 1     frequency (Hz)
//	reg 2-4   pulse widths p1, p2, p3 (ns)
//	reg 5-6   gap widths g1, g2 (ns)
//	reg 7     receive window rec (ns)
//	reg 8     trigger configuration (reset 65537)
//	reg 9     decimation (reset 1)
//	reg 10    phase: TX code in bits 0-1, RX code in bits 2-3
//
// Phase codes are degrees/90. Phase fields are written with a bit mask and
// leave the rest of register 10 untouched; every other field is written with
// mask 0, which overwrites the whole register.
//
// # Per-Repeat Protocol
//
//  1. Program the sequence registers, checking every read-back
//  2. Disarm, then arm the trigger
//  3. Enable, hold for the acquisition window, disable
//  4. Read one buffer holding both channels and split it
//  5. Persist the raw repeat and emit it
//  6. Settle before the next repeat
//
// # Buffer Layout
//
// A buffer holds 2*N samples for a record length of N. The layout is
// block-contiguous: samples [0, N) are channel A and [N, 2N) are channel B.
//
// # Failure Policy
//
// A failed register write, read-back mismatch, or buffer read fails the
// current attempt. Each repeat gets Config.MaxAttempts attempts; when they
// are exhausted the engine emits EventRepeatFailed and moves on to the next
// repeat. The command is never aborted by a device error.
//
// # Thread Safety
//
// Engine methods are safe for concurrent use. Device implementations are
// only ever called from the engine goroutine.
package spectrometer
