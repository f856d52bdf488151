// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Command capnotes runs the notes API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hashicorp/capnotes/config"
)

func main() {
	if err := newRootCmd(config.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "capnotes",
		Short:         "A notes API secured by OpenID Connect",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to a config file")
	root.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "Log format (text or json)")
	bindFlag(v, "config", root.PersistentFlags().Lookup("config"))
	bindFlag(v, "log_level", root.PersistentFlags().Lookup("log-level"))
	bindFlag(v, "log_format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(newServeCmd(v))
	return root
}
