package commands

import (
	"fmt"
	"strconv"

	"github.com/WillyEverGreen/CRCE-calc/internal/grading"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(gradeCmd)
}

var gradeCmd = &cobra.Command{
	Use:   "grade <percentage>",
	Short: "Prints the grade and grade point for a percentage.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		percentage, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid percentage %q", args[0])
		}
		grade := grading.PercentToGrade(&percentage)
		point := grading.GradePoint(grade)
		if point == nil {
			fmt.Printf("%s (no grade point)\n", grade)
			return nil
		}
		fmt.Printf("%s (%g)\n", grade, *point)
		return nil
	},
}
