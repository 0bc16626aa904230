package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	nm "github.com/232425wxy/dactr/node"
)

// RegisterAppCmd 注册一个新的应用，并打印分配给它的 AppID
var RegisterAppCmd = &cobra.Command{
	Use:   "register-app <key>",
	Short: "Register an application key and print its AppId",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := nm.DefaultNewNode(config, logger)
		if err != nil {
			return err
		}
		defer n.Close()

		id, err := n.RegisterApp(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

// ListAppsCmd 按 AppID 的顺序打印所有已经注册的应用
var ListAppsCmd = &cobra.Command{
	Use:   "list-apps",
	Short: "List registered application keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := nm.DefaultNewNode(config, logger)
		if err != nil {
			return err
		}
		defer n.Close()

		keys, err := n.Registry().List()
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%v\t%s\n", k.ID, k.Key)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "next app id: %v\n", n.Registry().NextApplicationID())
		return nil
	},
}
