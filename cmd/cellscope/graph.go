package main

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-cells/pkg/manifest"
	"github.com/goliatone/go-cells/pkg/rules"
	"github.com/goliatone/go-cells/pkg/scope"
	"github.com/goliatone/go-cells/pkg/scopemetrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// session is a built manifest plus the registry its scopes report to, when
// --metrics is set.
type session struct {
	*manifest.Graph
	cmd      *cobra.Command
	registry *prometheus.Registry
}

func openSession(cmd *cobra.Command, path string) (*session, error) {
	logger, err := commandLogger(cmd)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("manifest loaded", "path", path, "cells", len(m.Cells), "scopes", len(m.Scopes))

	s := &session{cmd: cmd}
	scopeOpts := []scope.Option{scope.WithLogger(logger)}
	if enabled, _ := cmd.Flags().GetBool("metrics"); enabled {
		collector := scopemetrics.New(prometheus.Labels{"manifest": path})
		s.registry = prometheus.NewRegistry()
		if err := s.registry.Register(collector); err != nil {
			return nil, err
		}
		scopeOpts = append(scopeOpts, scope.WithMetrics(collector))
	}

	s.Graph, err = manifest.Build(m,
		manifest.WithEvaluatorLogger(rules.SlogLogger(logger)),
		manifest.WithScopeOptions(scopeOpts...),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close disposes every scope and then writes the metrics, so disposal
// counters are included.
func (s *session) Close() error {
	s.Graph.Close()
	if s.registry == nil {
		return nil
	}
	families, err := s.registry.Gather()
	if err != nil {
		return err
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(s.cmd.ErrOrStderr(), family); err != nil {
			return err
		}
	}
	return nil
}

// parseAssignment splits name=value and decodes value as a YAML scalar, so
// 3 is an int, true a bool and "3" a string.
func parseAssignment(raw string) (string, any, error) {
	name, text, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid --set %q: expected name=value", raw)
	}
	var value any
	if err := yaml.Unmarshal([]byte(text), &value); err != nil {
		return "", nil, fmt.Errorf("invalid --set %q: %w", raw, err)
	}
	return name, value, nil
}
