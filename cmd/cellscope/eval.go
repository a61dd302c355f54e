package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <manifest>",
		Short: "Print a cell value inside a scope",
		Long: `Builds the manifest, applies every --set assignment through the chosen
scope and prints the value of --cell as seen from that scope.`,
		Args: cobra.ExactArgs(1),
		RunE: runEval,
	}
	cmd.Flags().String("scope", "root", "Scope to read through")
	cmd.Flags().String("cell", "", "Cell to print")
	cmd.Flags().StringArray("set", nil, "Assign name=value before reading (repeatable)")
	_ = cmd.MarkFlagRequired("cell")
	return cmd
}

func runEval(cmd *cobra.Command, args []string) (err error) {
	scopeName, _ := cmd.Flags().GetString("scope")
	cellName, _ := cmd.Flags().GetString("cell")
	assignments, _ := cmd.Flags().GetStringArray("set")

	g, err := openSession(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, g.Close())
	}()

	accessor, err := g.Accessor(scopeName)
	if err != nil {
		return err
	}
	for _, raw := range assignments {
		name, value, err := parseAssignment(raw)
		if err != nil {
			return err
		}
		c, err := g.Cell(name)
		if err != nil {
			return err
		}
		if _, err := accessor.Set(c, value); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}

	c, err := g.Cell(cellName)
	if err != nil {
		return err
	}
	value, err := accessor.Get(c)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatValue(value))
	return nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
