package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/WillyEverGreen/CRCE-calc/internal/credits"
	"github.com/spf13/cobra"
)

var creditsFile *string

var rootCmd = &cobra.Command{
	Use:   "crce-cli",
	Short: "crce-cli fetches CRCE portal marks and computes grades locally.",
}

func init() {
	creditsFile = rootCmd.PersistentFlags().String("credits", "", "A json5 credit table layered over the built-in one.")
}

func loadCredits() (*credits.Lookup, error) {
	return credits.Load(*creditsFile, telemetry.SlogAPI{})
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
