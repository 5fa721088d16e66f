package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/unclebandit/outreach-engine/internal/app"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type container = app.Container

func withContainer(fn func(c *container) error) error {
	c, err := app.New(config.Load())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

type sweeper interface {
	Sweep(ctx context.Context, opts service.SweepOptions) (*service.SweepReport, error)
}

type validator interface {
	Validate(ctx context.Context, req service.ValidateRequest) (*service.ValidationReport, error)
}

func runReconcile(ctx context.Context, s sweeper, autoFix bool, format string, out io.Writer) error {
	report, err := s.Sweep(ctx, service.SweepOptions{AutoFix: autoFix})
	if err != nil {
		return err
	}
	return render(out, format, report, func() string { return sweepText(report) })
}

func runValidate(ctx context.Context, v validator, ids []uuid.UUID, autoFix bool, format string, out io.Writer) error {
	report, err := v.Validate(ctx, service.ValidateRequest{CampaignIDs: ids, AutoFix: autoFix})
	if err != nil {
		return err
	}
	return render(out, format, report, func() string { return validationText(report) })
}

func render(out io.Writer, format string, v any, text func() string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		_, err := io.WriteString(out, text())
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func sweepText(r *service.SweepReport) string {
	var b strings.Builder
	for _, c := range r.Checks {
		state := "ok"
		if !c.Passed {
			state = string(c.Severity)
		}
		fmt.Fprintf(&b, "%-22s %-8s %s\n", c.Name, state, c.Message)
	}
	fmt.Fprintf(&b, "healthy=%t repaired=%d\n", r.Healthy(), r.TotalRepaired())
	return b.String()
}

func validationText(r *service.ValidationReport) string {
	var b strings.Builder
	for _, c := range r.Campaigns {
		fmt.Fprintf(&b, "%s (%s) valid=%t\n", c.CampaignName, c.CampaignID, c.IsValid)
		for _, issue := range c.Issues {
			mark := ""
			if issue.Fixed {
				mark = " [fixed]"
			}
			fmt.Fprintf(&b, "  %-7s %s: %s%s\n", issue.Severity, issue.Code, issue.Message, mark)
		}
	}
	return b.String()
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
