package main

import (
	"fmt"

	"pixieauth/core"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the session and delete the stored API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		controller, err := a.newController(core.Capabilities{}, core.NoBrowser{})
		if err != nil {
			return err
		}
		if err := controller.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
