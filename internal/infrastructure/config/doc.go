// Package config loads the lab configuration: which drivers reach the
// digitizer and the PPMS, where run directories are created, and the
// optional MQTT and InfluxDB mirrors.
//
// Values come from three layers, later ones winning: built-in defaults,
// the YAML file, then NMRLAB_* environment variables. Validate collects
// every problem into one error so an operator fixes the file in one pass.
//
// Keep broker passwords and InfluxDB tokens out of the file and pass them
// as NMRLAB_MQTT_PASSWORD and NMRLAB_INFLUXDB_TOKEN.
//
// Durations (window, settle, poll_interval, ...) are Go duration strings
// such as "500ms" or "2s".
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Output.BaseDir)
package config
