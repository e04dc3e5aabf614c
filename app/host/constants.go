package main

import "time"

const (
	logFileName = "tezbake-host.log"

	shutdownTimeout = 5 * time.Second

	// Flag names shared by the key commands.
	flagCurve = "curve"
	flagPath  = "path"
	flagYes   = "yes"
	flagJSON  = "json"
)
