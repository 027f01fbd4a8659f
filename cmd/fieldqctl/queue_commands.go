package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fieldq/internal/outbox"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue health and database diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			health, err := store.Health(cmd.Context())
			if err != nil {
				return err
			}
			pending, err := store.PendingCount(cmd.Context())
			if err != nil {
				return err
			}

			rows := [][]string{
				{"Pending", strconv.Itoa(health.Pending)},
				{"Submitting", strconv.Itoa(health.Submitting)},
				{"Failed (retry scheduled)", strconv.Itoa(health.Failed - health.Terminal)},
				{"Failed (needs action)", strconv.Itoa(health.Terminal)},
				{"Submitted", strconv.Itoa(health.Submitted)},
				{"Total", strconv.Itoa(health.Total)},
				{"Awaiting delivery", strconv.Itoa(pending)},
			}
			cmd.Println(renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))

			dbHealth, err := store.CheckHealth(cmd.Context())
			if err != nil {
				return fmt.Errorf("database check: %w", err)
			}
			cmd.Printf("Database: %s (integrity: %s)\n", dbHealth.DBPath, yesNo(dbHealth.IntegrityCheck))
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued debriefs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var statuses []outbox.Status
			if statusFlag != "" {
				for _, raw := range strings.Split(statusFlag, ",") {
					status, ok := outbox.ParseStatus(raw)
					if !ok {
						return fmt.Errorf("unknown status %q", raw)
					}
					statuses = append(statuses, status)
				}
			}

			items, err := store.List(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				cmd.Println("Queue is empty.")
				return nil
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					shortID(item.ID),
					item.MeetingID,
					colorizeStatus(string(item.Status), itemStatusLabel(item)),
					strconv.Itoa(item.Attempts),
					formatAge(item.CreatedAt),
					formatNextAttempt(item),
					truncate(item.LastError, 48),
				})
			}
			cmd.Println(renderTable(
				[]string{"ID", "Meeting", "Status", "Attempts", "Age", "Next Attempt", "Last Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Comma-separated status filter (pending, submitting, submitted, failed)")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [item-id...]",
		Short: "Make failed debriefs eligible for delivery again",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := store.RetryFailed(cmd.Context(), args...)
			if err != nil {
				return err
			}
			cmd.Printf("Marked %d item(s) for retry.\n", count)
			return nil
		},
	}
}

func newDiscardCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <item-id>",
		Short: "Remove a debrief from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("item %s not found or currently submitting", args[0])
			}
			cmd.Println("Item removed.")
			return nil
		},
	}
}

func newPruneCommand(ctx *commandContext) *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove submitted debriefs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			retention := time.Duration(hours) * time.Hour
			if hours <= 0 {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				retention = time.Duration(cfg.Queue.SubmittedRetentionHours) * time.Hour
			}

			count, err := store.PruneSubmitted(cmd.Context(), time.Now().UTC().Add(-retention))
			if err != nil {
				return err
			}
			cmd.Printf("Pruned %d submitted item(s).\n", count)
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 0, "Retention window in hours (default: configured value)")
	return cmd
}

func itemStatusLabel(item *outbox.Item) string {
	if item.Status == outbox.StatusFailed {
		if item.FailureKind == outbox.FailureTerminal && item.NextAttemptAt == nil {
			return "failed (needs action)"
		}
		return "failed (retrying)"
	}
	return string(item.Status)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max-1] + "…"
}

func formatAge(created time.Time) string {
	age := time.Since(created)
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}

func formatNextAttempt(item *outbox.Item) string {
	if item.NextAttemptAt == nil {
		return "-"
	}
	until := time.Until(*item.NextAttemptAt)
	if until <= 0 {
		return "due"
	}
	return "in " + until.Round(time.Second).String()
}

func yesNo(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
