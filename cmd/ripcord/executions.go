package main

import (
	"fmt"

	"github.com/ripcord-io/ripcord"
	"github.com/spf13/cobra"
)

var (
	listStatus        string
	listPlanID        string
	listLimit         int
	cancelTerminate   bool
	resumeFail        bool
	resumeFailMessage string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		filter := ripcord.ExecutionFilter{Limit: listLimit}
		if listStatus != "" {
			status := ripcord.ExecutionStatus(listStatus)
			filter.Status = &status
		}
		if listPlanID != "" {
			filter.PlanID = &listPlanID
		}
		executions, err := rt.execStore.ListExecutions(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(executions) == 0 {
			fmt.Println("no executions")
			return nil
		}
		for _, execution := range executions {
			printExecutionRow(execution)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get EXECUTION_ID",
	Short: "Show one execution with its waves and servers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		execution, err := rt.execStore.GetExecution(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printExecution(execution)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel EXECUTION_ID",
	Short: "Cancel an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.engine.Cancel(cmd.Context(), args[0], cancelTerminate); err != nil {
			return err
		}
		fmt.Printf("execution %s cancelled\n", args[0])
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume TOKEN",
	Short: "Release a paused execution by its callback token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.engine.Resume(cmd.Context(), args[0], !resumeFail, resumeFailMessage); err != nil {
			return err
		}
		if resumeFail {
			fmt.Println("execution aborted at pause checkpoint")
		} else {
			fmt.Println("execution resumed")
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending, running, paused, completed, failed, timeout, cancelled)")
	listCmd.Flags().StringVar(&listPlanID, "plan", "", "Filter by plan id")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of executions to list")
	cancelCmd.Flags().BoolVar(&cancelTerminate, "terminate-instances", false, "Also terminate recovery instances launched by this execution")
	resumeCmd.Flags().BoolVar(&resumeFail, "fail", false, "Signal failure instead of success, aborting the execution")
	resumeCmd.Flags().StringVar(&resumeFailMessage, "message", "", "Reason recorded with a failure signal")
	rootCmd.AddCommand(listCmd, getCmd, cancelCmd, resumeCmd)
}
