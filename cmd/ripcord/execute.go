package main

import (
	"fmt"

	"github.com/ripcord-io/ripcord/config"
	"github.com/spf13/cobra"
)

var executeDryRun bool

var executeCmd = &cobra.Command{
	Use:   "execute PLAN_FILE",
	Short: "Admit a recovery plan and start its execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := config.LoadPlanFile(args[0])
		if err != nil {
			return err
		}

		rt, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cmd.Context()
		execution, err := rt.engine.CreateExecution(ctx, plan)
		if err != nil {
			return fmt.Errorf("admission failed: %w", err)
		}
		if executeDryRun {
			fmt.Printf("plan %q admitted; execution %s created in %s status\n",
				plan.ID, execution.ID, execution.Status)
			return nil
		}

		if err := rt.engine.Start(ctx, execution.ID); err != nil {
			return fmt.Errorf("starting execution %s: %w", execution.ID, err)
		}
		execution, err = rt.execStore.GetExecution(ctx, execution.ID)
		if err != nil {
			return err
		}
		printExecution(execution)
		fmt.Println()
		fmt.Printf("run %q to follow progress\n", "ripcord reconcile")
		return nil
	},
}

func init() {
	executeCmd.Flags().BoolVar(&executeDryRun, "dry-run", false, "Admit the plan and create the execution without launching anything")
	rootCmd.AddCommand(executeCmd)
}
