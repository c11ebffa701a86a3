package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tablepay/payments-reconciler/internal/auth"
)

func tokenCmd() *cobra.Command {
	var (
		operator string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token signed with OPERATOR_TOKEN_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("OPERATOR_TOKEN_SECRET")
			if secret == "" {
				return fmt.Errorf("OPERATOR_TOKEN_SECRET is not set")
			}

			token, err := auth.GenerateOperatorToken(operator, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&operator, "operator", "o", "", "Operator identity (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("operator")

	return cmd
}
