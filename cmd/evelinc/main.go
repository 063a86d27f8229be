// Command evelinc is the driver around the evelin compiler core: it reads
// source files, runs the core pipeline, hands the resulting IR text to an
// external QBE binary, and links the backend's assembly output with a
// platform C compiler.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	envpkg "github.com/xyproto/env/v2"
)

const versionString = "evelinc 0.1.0"

// logLevelEnvVar overrides the default log level before flags are parsed;
// the --debug flag takes precedence when given.
const logLevelEnvVar = "EVELINC_LOG_LEVEL"

func main() {
	configureLogging()
	if err := RunCLI(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configureLogging() {
	level := envpkg.Str(logLevelEnvVar, "error")
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.ErrorLevel
	}
	log.SetLevel(parsed)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
}
