// Command outreachctl runs engine operations from a shell or a scheduler.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "outreachctl",
		Usage: "Operate the outreach orchestration engine",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Apply database migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withContainer(func(c *container) error { return c.Migrate() })
				},
			},
			{
				Name:  "reconcile",
				Usage: "Run one reconciliation sweep",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "auto-fix", Value: true, Usage: "Apply repairs for fixable checks"},
					formatFlag(),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withContainer(func(c *container) error {
						return runReconcile(ctx, c.Reconciler, cmd.Bool("auto-fix"), cmd.String("format"), os.Stdout)
					})
				},
			},
			{
				Name:  "validate",
				Usage: "Validate campaigns (all active campaigns when none are given)",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "campaign", Aliases: []string{"c"}, Usage: "Campaign id, repeatable"},
					&cli.BoolFlag{Name: "auto-fix", Usage: "Apply safe fixes"},
					formatFlag(),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					ids, err := parseIDs(cmd.StringSlice("campaign"))
					if err != nil {
						return err
					}
					return withContainer(func(c *container) error {
						return runValidate(ctx, c.Validator, ids, cmd.Bool("auto-fix"), cmd.String("format"), os.Stdout)
					})
				},
			},
			{
				Name:  "execute",
				Usage: "Execute a batch of due queue items inline",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 25, Usage: "Maximum items to execute"},
					formatFlag(),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withContainer(func(c *container) error {
						result, err := c.Executor.RunDue(ctx, int(cmd.Int("limit")))
						if err != nil {
							return err
						}
						return render(os.Stdout, cmd.String("format"), result, func() string {
							return fmt.Sprintf("claimed=%d sent=%d transient=%d hard=%d deferred=%d\n",
								result.Claimed, result.Sent, result.Transient, result.Hard, result.Deferred)
						})
					})
				},
			},
			{
				Name:  "schedule",
				Usage: "Queue the opening stage for prospects of a campaign",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "campaign", Aliases: []string{"c"}, Required: true, Usage: "Campaign id"},
					&cli.StringSliceFlag{Name: "prospect", Aliases: []string{"p"}, Required: true, Usage: "Prospect id, repeatable"},
					formatFlag(),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					campaign, err := parseIDs([]string{cmd.String("campaign")})
					if err != nil {
						return err
					}
					prospects, err := parseIDs(cmd.StringSlice("prospect"))
					if err != nil {
						return err
					}
					return withContainer(func(c *container) error {
						result, err := c.CampaignService.ScheduleProspects(ctx, campaign[0], prospects)
						if err != nil {
							return err
						}
						return render(os.Stdout, cmd.String("format"), result, func() string {
							return fmt.Sprintf("scheduled=%d skipped=%d\n", len(result.Scheduled), len(result.Skipped))
						})
					})
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "outreachctl:", err)
		os.Exit(1)
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "text", Usage: "Output format: 'text' or 'json'"}
}
