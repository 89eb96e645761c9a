package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"clipster/internal/jobapi"
	"clipster/internal/platform"
)

func newInfoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <url>",
		Short: "Look up title, duration and available qualities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd, opts, args[0])
		},
	}
}

func runInfo(cmd *cobra.Command, opts *rootOptions, rawURL string) error {
	api, err := jobapi.New(opts.cfg.APIURL, jobapi.WithTimeout(opts.cfg.HTTPTimeout))
	if err != nil {
		return err
	}

	md, err := api.FetchMetadata(cmd.Context(), rawURL)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "platform:  %s\n", platform.Detect(rawURL))
	if md.Title != "" {
		fmt.Fprintf(out, "title:     %s\n", md.Title)
	}
	if md.Duration != "" {
		fmt.Fprintf(out, "duration:  %s\n", md.Duration)
	}
	if md.ThumbnailURL != "" {
		fmt.Fprintf(out, "thumbnail: %s\n", md.ThumbnailURL)
	}
	fmt.Fprintf(out, "qualities: %s\n", formatQualities(md.Qualities))
	return nil
}

// formatQualities marks the last (best) entry, which download picks by default.
func formatQualities(qualities []string) string {
	if len(qualities) == 0 {
		return "(none)"
	}
	parts := append([]string(nil), qualities...)
	parts[len(parts)-1] += " (default)"
	return strings.Join(parts, ", ")
}
