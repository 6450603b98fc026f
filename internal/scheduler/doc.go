// Package scheduler runs a command queue end to end.
//
// The Scheduler dispatches one command at a time to the engine that owns
// it (NMR commands to the spectrometer engine, set-point commands to the
// environment engine), consumes both engines' event streams, keeps the
// running average of the active NMR command, and reports a terminal
// Completion when the queue is exhausted, aborted, or could not start.
//
// State machine:
//
//	Idle -> Dispatching(0) -> Running(0) -> Dispatching(1) -> ... -> Finished
//
// A command is never dispatched before the previous command's engine has
// reported it finished, so commands from the same queue never overlap even
// though the two engines run on independent goroutines.
//
// Configuration errors are reported as Completion codes, not panics:
//
//	CodeNoCommands         queue is empty
//	CodeNoOutputDirectory  no base directory or no usable sample name
//
// In both cases no engine receives a message and no directory is created.
//
// After every NMR repeat the Scheduler asks the environment engine to
// sample current conditions tagged with the active sequence name.
//
// Listeners receive progress through the Listener interface. MQTTListener
// mirrors events onto an MQTT broker.
package scheduler
