package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"pixieauth/core"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an API key is stored",
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
		return runStatus(cmd.Context(), controller, a.config.Core.APIURL, cmd.OutOrStdout(), statusJSON)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output JSON instead of human-readable text")
	rootCmd.AddCommand(statusCmd)
}

type statusOutput struct {
	Authenticated bool          `json:"authenticated"`
	Provider      core.Provider `json:"provider,omitempty"`
	UserID        string        `json:"user_id,omitempty"`
	APIURL        string        `json:"api_url"`
}

func runStatus(ctx context.Context, controller *core.AuthSessionController, apiURL string, w io.Writer, asJSON bool) error {
	out := statusOutput{APIURL: apiURL}

	if controller.IsAuthenticated(ctx) {
		cred, err := controller.CurrentCredential(ctx)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}
		if cred != nil {
			out.Authenticated = true
			out.Provider = cred.Provider
			out.UserID = cred.UserID
		}
	}

	if asJSON {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(w, string(data))
		return nil
	}

	if !out.Authenticated {
		fmt.Fprintf(w, "Not signed in to %s\n", out.APIURL)
		return nil
	}
	fmt.Fprintf(w, `API:      %s
Provider: %s
User:     %s
`, out.APIURL, out.Provider, out.UserID)
	return nil
}
