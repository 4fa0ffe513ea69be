package main

import (
	"fmt"

	"github.com/ripcord-io/ripcord/config"
	"github.com/ripcord-io/ripcord/engine"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate PATTERN",
	Short: "Validate recovery plan files without touching any state",
	Long: `Validate parses every plan file matching the doublestar pattern, checks
structural rules (unique wave numbers, known dependencies, no cycles), and
reports each result. Nothing is admitted or persisted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plans, err := config.LoadPlans(args[0])
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			return fmt.Errorf("no plan files match %q", args[0])
		}
		failed := 0
		for _, plan := range plans {
			if err := engine.ValidatePlan(plan); err != nil {
				fmt.Printf("%s  plan %q: %v\n", errorColor.Sprint("fail"), plan.ID, err)
				failed++
				continue
			}
			fmt.Printf("%s  plan %q: %d waves  %s\n",
				successColor.Sprint("ok"), plan.ID, len(plan.Waves), plan.Name)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d plans invalid", failed, len(plans))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
