// Package process supervises a long-running helper daemon that nmrlab
// depends on, such as the digitizer gateway.
//
// A Supervisor starts the binary in its own process group, logs its output
// line by line, waits for a readiness probe before Start returns and
// restarts the daemon when it exits unexpectedly. Stop sends SIGTERM to the
// group and escalates to SIGKILL after a grace period.
//
// Example usage:
//
//	sup, err := process.New(process.Config{
//	    Name:             "adqd",
//	    Binary:           "/usr/local/bin/adqd",
//	    Args:             []string{"--socket", "/run/adqd.sock"},
//	    RestartOnFailure: true,
//	    Ready: func(ctx context.Context) error {
//	        return adq.Probe(ctx, "unix:///run/adqd.sock")
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
