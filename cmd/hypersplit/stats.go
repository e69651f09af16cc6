package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"hypersplit/pkg/filter"
	"hypersplit/pkg/hypersplit"
)

func newStatsCommand() *cobra.Command {
	var maxDepth int
	cmd := &cobra.Command{
		Use:     "stats rule_file [binth]",
		Short:   "Build the tree for a rule file and print its shape",
		Example: "  hypersplit stats rules.txt 8",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			binth := 4
			if len(args) == 2 {
				var err error
				if binth, err = strconv.Atoi(args[1]); err != nil {
					return errors.Wrapf(err, "binth %q", args[1])
				}
			}
			rules, err := filter.LoadRules(args[0])
			var lineErr *filter.LineError
			if err != nil && !errors.As(err, &lineErr) {
				return err
			}
			if lineErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s: %v\n", args[0], lineErr)
			}

			start := time.Now()
			tree, err := hypersplit.Build(rules, hypersplit.Options{Binth: binth, MaxDepth: maxDepth})
			if err != nil {
				return err
			}
			renderStats(cmd.OutOrStdout(), rules.Len(), binth, tree.Stats(), time.Since(start))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Tree depth limit (0 = default)")
	return cmd
}

func renderStats(w io.Writer, rules, binth int, s hypersplit.Stats, took time.Duration) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"METRIC", "VALUE"})

	rows := [][]string{
		{"Rules", strconv.Itoa(rules)},
		{"Binth", strconv.Itoa(binth)},
		{"Nodes", strconv.Itoa(s.Nodes)},
		{"Internal nodes", strconv.Itoa(s.Internal)},
		{"Leaves", strconv.Itoa(s.Leaves)},
		{"Empty leaves", strconv.Itoa(s.EmptyLeaves)},
		{"Max depth", strconv.Itoa(s.MaxDepth)},
		{"Rule refs", strconv.Itoa(s.RuleRefs)},
		{"Max leaf rules", strconv.Itoa(s.MaxLeafRules)},
		{"Replication", strconv.FormatFloat(s.Replication, 'f', 3, 64)},
		{"Build time", took.String()},
	}

	reasons := make([]hypersplit.LeafReason, 0, len(s.LeafReasons))
	for r := range s.LeafReasons {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	for _, r := range reasons {
		rows = append(rows, []string{"Leaves (" + r.String() + ")", strconv.Itoa(s.LeafReasons[r])})
	}

	table.AppendBulk(rows)
	table.Render()
}
