package main

import (
	"github.com/WillyEverGreen/CRCE-calc/cmd/crce-cli/commands"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/WillyEverGreen/CRCE-calc/lib/serviceutil"
)

func main() {
	telemetry.InitSlog(false)
	commands.ExecuteContext(serviceutil.SignalContext())
}
