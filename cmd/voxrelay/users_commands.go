package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newGrantCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <user-id>",
		Short: "Authorize a user without the shared secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}

			store, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.Authorize(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %d: %s\n", userID, res)
			return nil
		},
	}
}

func newUsersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List authorized users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No authorized users")
				return nil
			}
			rows := make([][]string, 0, len(ids))
			for i, id := range ids {
				rows = append(rows, []string{strconv.Itoa(i + 1), strconv.FormatInt(id, 10)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"#", "User ID"}, rows))
			return nil
		},
	}
}
