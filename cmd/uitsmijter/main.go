// SPDX-License-Identifier: Apache-2.0

// Command uitsmijter runs the multi-tenant authorization server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags serveFlags

	rootCmd := &cobra.Command{
		Use:   "uitsmijter",
		Short: "Multi-tenant OAuth2/OIDC authorization server with interceptor mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), flags)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVar(&flags.Address, "address", ":8080", "listen address")
	rootCmd.Flags().StringVar(&flags.ViewsDir, "views", "./views", "directory for tenant page templates")
	rootCmd.Flags().StringVar(&flags.KeysDir, "keys", "", "directory with PEM signing keys; generates an ephemeral key when empty")

	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			version := os.Getenv("DISPLAY_VERSION")
			if version == "" {
				version = "dev"
			}
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
