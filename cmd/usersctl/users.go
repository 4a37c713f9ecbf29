package main

import (
	"fmt"

	"github.com/spf13/cobra"

	ua "github.com/panyam/userauth"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Create and manage user accounts",
	}
	cmd.AddCommand(newAddSuperuserCmd(a))
	cmd.AddCommand(newAddUserCmd(a))
	cmd.AddCommand(newSetRoleCmd(a))
	cmd.AddCommand(newSetActiveCmd(a, "activate", true))
	cmd.AddCommand(newSetActiveCmd(a, "deactivate", false))
	return cmd
}

func printCreated(cmd *cobra.Command, created *ua.CreatedUser) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "created user %s (id %s, role %s, superuser %t)\n",
		created.User.Username, created.User.ID, created.User.Role, created.User.IsSuperuser)
	if created.GeneratedPassword != "" {
		fmt.Fprintf(out, "generated password: %s\n", created.GeneratedPassword)
	}
}

func newAddSuperuserCmd(a *app) *cobra.Command {
	var req ua.CreateUserRequest
	cmd := &cobra.Command{
		Use:   "add-superuser",
		Short: "Create an active admin with superuser rights",
		Long: `Create an active admin account with superuser rights. The username
defaults to "superadmin"; a random password is generated and printed when
--password is omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			created, err := ua.CreateSuperuserFrom(ctx, rt.svc, req)
			if err != nil {
				return err
			}
			printCreated(cmd, created)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "username (default \"superadmin\")")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address, stored as verified")
	cmd.Flags().StringVar(&req.Password, "password", "", "password (generated when empty)")
	return cmd
}

func newAddUserCmd(a *app) *cobra.Command {
	var req ua.CreateUserRequest
	var role string
	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Create an active user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			req.Role = ua.Role(role)
			created, err := ua.CreateUser(ctx, rt.svc, req, ua.CreateUserRequest{Role: ua.RoleUser})
			if err != nil {
				return err
			}
			printCreated(cmd, created)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "username")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.Password, "password", "", "password (generated when empty)")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&role, "role", string(ua.RoleUser), "role: user or admin")
	cmd.Flags().BoolVar(&req.IsSuperuser, "superuser", false, "grant superuser rights")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newSetRoleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <username|email> <role>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			user, err := rt.svc.FindUser(ctx, args[0])
			if err != nil {
				return err
			}
			if err := rt.svc.UpdateRole(ctx, user.ID, ua.Role(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", user.Username, args[1])
			return nil
		},
	}
}

func newSetActiveCmd(a *app, name string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <username|email>",
		Short: "Set whether a user can log in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			user, err := rt.svc.FindUser(ctx, args[0])
			if err != nil {
				return err
			}
			if active {
				err = rt.svc.Activate(ctx, user.ID)
			} else {
				err = rt.svc.Deactivate(ctx, user.ID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd\n", user.Username, name)
			return nil
		},
	}
}
