package main

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog"

	ctvbuilders "github.com/SashaZezulinsky/ctv-tree-builder"
	"github.com/SashaZezulinsky/ctv-tree-builder/chain"
	"github.com/SashaZezulinsky/ctv-tree-builder/planstore"
)

var (
	logBackend = btclog.NewBackend(os.Stdout)
	log        = logBackend.Logger("CTVT")
)

// setupLogging sets all subsystems to the given level and hands their
// loggers to the packages.
func setupLogging(level string) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("invalid debug level %q", level)
	}

	log.SetLevel(lvl)
	addSubLogger(ctvbuilders.Subsystem, lvl, ctvbuilders.UseLogger)
	addSubLogger(chain.Subsystem, lvl, chain.UseLogger)
	addSubLogger(planstore.Subsystem, lvl, planstore.UseLogger)

	return nil
}

// addSubLogger creates the logger of a subsystem and registers it with all
// given packages.
func addSubLogger(subsystem string, level btclog.Level,
	useLoggers ...func(btclog.Logger)) {

	logger := logBackend.Logger(subsystem)
	logger.SetLevel(level)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
