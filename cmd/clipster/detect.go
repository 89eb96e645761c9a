package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clipster/internal/platform"
)

func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <url>",
		Short: "Show which platform a URL belongs to",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			p := platform.Detect(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "platform: %s\nhint:     %s\n", p, platform.Hint(p))
		},
	}
}
