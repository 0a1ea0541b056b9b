package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the calendai version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("calendai version %s\n", version)
		},
	}
}
