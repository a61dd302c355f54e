package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/goliatone/go-cells/pkg/manifest"
	"github.com/spf13/cobra"
)

func newClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <manifest>",
		Short: "List how a scope treats every cell",
		Args:  cobra.ExactArgs(1),
		RunE:  runClassify,
	}
	cmd.Flags().String("scope", "", "Scope to classify against")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func runClassify(cmd *cobra.Command, args []string) (err error) {
	scopeName, _ := cmd.Flags().GetString("scope")

	g, err := openSession(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, g.Close())
	}()

	s, ok := g.Scope(scopeName)
	if !ok {
		return fmt.Errorf("%w: %q", manifest.ErrUnknownScope, scopeName)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, name := range g.Catalog.Names() {
		c, err := g.Catalog.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\n", name, s.Classify(c))
	}
	return w.Flush()
}
