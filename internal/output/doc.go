// Package output owns the on-disk layout of a run.
//
// One directory is created per run under the configured base directory,
// named after the sample. Existing directories are never reused: the first
// free name among "name", "name_1", "name_2", ... is claimed with os.Mkdir,
// so two runs of the same sample never overwrite each other.
//
// # Layout
//
//	<base>/<sample>[_N]/
//	    info.txt                      KEY, value lines; last line COMMANDS, [...]
//	    <seq>_<cmd>_<repeat>.txt      raw repeat: header + channel A row + channel B row
//	    <seq>_<cmd>_average.txt       running average, replaced after every repeat
//	    PPMS_conditions_<seq>.txt     timestamp,T,H per NMR repeat
//	    PPMS_setpoint_<cmd>.txt       timestamp,value,substatus while a set-point settles
//
// Data rows are comma-separated. Timestamps use the layout
// 2006-01-02-15:04:05.
//
// # Thread Safety
//
// A Run is shared by the scheduler and both engines; all methods are safe
// for concurrent use.
package output
