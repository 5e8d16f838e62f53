// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/orka/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the orka version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "orka", version.Get())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
