package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cagent-gateway/tenantgw/internal/tenant"
)

func newTenantsCmd() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage tenants directly against the on-disk registry",
	}
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir(), "Root directory for tenant state and the registry")

	cmd.AddCommand(newTenantsCreateCmd(&stateDir))
	cmd.AddCommand(newTenantsListCmd(&stateDir))
	cmd.AddCommand(newTenantsInfoCmd(&stateDir))
	cmd.AddCommand(newTenantsRemoveCmd(&stateDir))
	cmd.AddCommand(newTenantsTokenCmd(&stateDir))

	return cmd
}

func openRegistry(stateDir string) (*tenant.Registry, error) {
	return tenant.NewRegistry(stateDir)
}

func newTenantsCreateCmd(stateDir *string) *cobra.Command {
	var displayName string

	cmd := &cobra.Command{
		Use:   "create <tenant-id>",
		Short: "Create a tenant and print its bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(*stateDir)
			if err != nil {
				return err
			}
			token, err := reg.Create(args[0], tenant.CreateOpts{DisplayName: displayName})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "Human-readable name for the tenant")
	return cmd
}

func newTenantsListCmd(stateDir *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenant IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(*stateDir)
			if err != nil {
				return err
			}
			ids, err := reg.List()
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(ids)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as a JSON array")
	return cmd
}

func newTenantsInfoCmd(stateDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <tenant-id>",
		Short: "Show a tenant's registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(*stateDir)
			if err != nil {
				return err
			}
			entry, found, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("tenant %q not found", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entry)
		},
	}
	return cmd
}

func newTenantsRemoveCmd(stateDir *string) *cobra.Command {
	var deleteData bool

	cmd := &cobra.Command{
		Use:   "remove <tenant-id>",
		Short: "Remove a tenant from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(*stateDir)
			if err != nil {
				return err
			}
			return reg.Remove(args[0], tenant.RemoveOpts{DeleteData: deleteData})
		},
	}
	cmd.Flags().BoolVar(&deleteData, "delete-data", false, "Also delete the tenant's on-disk state directory")
	return cmd
}

func newTenantsTokenCmd(stateDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <tenant-id>",
		Short: "Rotate a tenant's bearer token and print the new value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(*stateDir)
			if err != nil {
				return err
			}
			token, err := reg.Rotate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	return cmd
}
