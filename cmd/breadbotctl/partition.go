package main

import (
	"bufio"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/proglangs/breadbot/partition"
)

func newPartitionCmd() *cobra.Command {
	var (
		groups int
		format string
	)
	cmd := &cobra.Command{
		Use:   "partition",
		Short: "Split channel names read from stdin into balanced alphabetical groups",
		Long: `Reads one channel name per line from stdin, sorts them and prints the
category each would land in, the same way the sort command distributes
project channels.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var names []string
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				if name := strings.TrimSpace(sc.Text()); name != "" {
					names = append(names, name)
				}
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("read names: %w", err)
			}
			sort.Strings(names)

			out, err := partition.Balanced(names, func(s string) string { return s }, groups)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, g := range out {
				title := fmt.Sprintf(format, partition.LeadingLetter(g[0]), partition.LeadingLetter(g[len(g)-1]))
				if _, err := fmt.Fprintf(w, "%s (%d)\n", title, len(g)); err != nil {
					return err
				}
				for _, name := range g {
					fmt.Fprintf(w, "  %s\n", name)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&groups, "groups", "g", 1, "number of categories")
	cmd.Flags().StringVar(&format, "format", "Projects %s-%s", "category name format")
	return cmd
}
