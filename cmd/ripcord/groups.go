package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/ripcord-io/ripcord"
	"github.com/spf13/cobra"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage protection group records",
}

var groupsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import protection groups from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		var doc struct {
			Groups []*ripcord.ProtectionGroup `yaml:"groups"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[0], err)
		}
		if len(doc.Groups) == 0 {
			return fmt.Errorf("no groups in %s", args[0])
		}

		rt, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		for _, group := range doc.Groups {
			if group.ID == "" {
				return fmt.Errorf("group with empty id in %s", args[0])
			}
			if err := rt.groupStore.PutGroup(cmd.Context(), group); err != nil {
				return fmt.Errorf("storing group %q: %w", group.ID, err)
			}
			fmt.Printf("imported group %q (%d servers)\n", group.ID, len(group.SourceServerIDs))
		}
		return nil
	},
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List protection groups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		groups, err := rt.groupStore.ListGroups(cmd.Context())
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Println("no protection groups")
			return nil
		}
		for _, group := range groups {
			account := group.AccountID
			if account == "" {
				account = "home"
			}
			fmt.Printf("%s  %-24s  account=%s  servers=%d\n",
				group.ID, group.Name, account, len(group.SourceServerIDs))
		}
		return nil
	},
}

func init() {
	groupsCmd.AddCommand(groupsImportCmd, groupsListCmd)
	rootCmd.AddCommand(groupsCmd)
}
