package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/WillyEverGreen/CRCE-calc/internal/credits"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(creditsCmd)
}

var creditsCmd = &cobra.Command{
	Use:   "credits <subject name or code>",
	Short: "Prints the credits a subject is weighted with.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lookup, err := loadCredits()
		if err != nil {
			return err
		}

		name := strings.Join(args, " ")
		// a bare code is looked up as if it were a full subject name
		if !strings.Contains(name, "(") {
			name = fmt.Sprintf("(%s)", name)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Subject", "Code", "Credits"})
		t.AppendRow(table.Row{strings.Join(args, " "), credits.SubjectCode(name), lookup.Credits(name)})
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}
