// Package command defines the experiment step model and the ordered queue
// the scheduler executes.
//
// # Types
//
//   - Sequence: one pulse program (frequency, TX/RX phase, pulse and gap
//     widths, receive window), loaded from a .seq file
//   - NMRCommand: a Sequence plus a repeat count, run on the spectrometer
//   - PPMSCommand: a temperature or field set-point with a ramp rate, run on
//     the environment controller
//   - Sample: the specimen metadata a run is filed under
//   - Queue: the ordered, editable list of commands
//
// # Validation
//
// Construction never panics and never fails on bad numbers: a Sequence or
// NMRCommand carries a Valid() result computed from its fields, and callers
// check it before handing the object on. The Queue refuses invalid commands.
// PPMS set-points are the exception: their constructors and edits reject
// out-of-range values with ErrOutOfRange, so a PPMSCommand is always valid.
//
// # Labels
//
// Every command has a Label() for display. Labels are derived from the
// structured fields on each call and are never parsed back.
//
// # Thread Safety
//
// Queue is safe for concurrent use. While a run holds the queue lock
// (Lock/Unlock), every mutation fails with ErrQueueLocked, so engines may
// read commands without further synchronisation.
package command
