package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ytrelay/internal/youtube"
)

func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract [text...]",
		Short: "Show which YouTube link the relay would pick from text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			link, ok := youtube.ExtractURL(text)
			if !ok {
				return fmt.Errorf("no youtube url found")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "url:      %s\n", link)
			if id, ok := youtube.VideoID(link); ok {
				fmt.Fprintf(out, "video id: %s\n", id)
			}
			return nil
		},
	}
}
