package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newUserCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserRegisterCmd(rt), newUserPinCmd(rt), newUserDeleteCmd(rt))
	return cmd
}

func newUserRegisterCmd(rt *runtime) *cobra.Command {
	var externalID, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create the user record for an identity-provider account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			u, err := svc.users.Register(cmd.Context(), externalID, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(rt.out, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&externalID, "external-id", "", "identity provider user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("external-id")
	return cmd
}

func newUserPinCmd(rt *runtime) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "pin <model>...",
		Short: "Replace the user's pinned models",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.users.PinModels(cmd.Context(), userID, args); err != nil {
				return err
			}
			fmt.Fprintf(rt.out, "pinned: %s\n", strings.Join(args, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newUserDeleteCmd(rt *runtime) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a user together with all conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.users.Delete(cmd.Context(), userID); err != nil {
				return err
			}
			fmt.Fprintln(rt.out, "deleted")
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
