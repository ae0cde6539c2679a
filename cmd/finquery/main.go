// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command finquery is the command-line companion to resolverd: it resolves
// a query in-process against the embedded catalog and prints the plan.
//
// Usage:
//
//	finquery resolve "compare Apple and Microsoft revenue for 2023"
//	finquery resolve -o json "AAPL free cash flow last 3 years"
//	finquery catalog
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "finquery",
		Short: "Resolve natural-language financial queries into typed query plans",
		Long: `finquery turns questions like "compare Apple and Microsoft revenue for 2023"
into a typed query plan: resolved companies, metrics, time period, and intent.

Resolution runs fully in-process against the embedded entity catalog; no
server or network access is required.`,
		SilenceUsage: true,
	}

	root.AddCommand(newResolveCommand())
	root.AddCommand(newCatalogCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
