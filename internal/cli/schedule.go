package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewScheduleCmd создаёт группу команд для управления schedules.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage pipeline schedules",
	}

	cmd.AddCommand(
		newScheduleListCmd(clientFn, outputFn),
		newScheduleCreateCmd(clientFn, outputFn),
		newScheduleShowCmd(clientFn, outputFn),
		newScheduleUpdateCmd(clientFn, outputFn),
		newScheduleDeleteCmd(clientFn, outputFn),
		newScheduleToggleCmd(clientFn, outputFn, true),
		newScheduleToggleCmd(clientFn, outputFn, false),
	)

	return cmd
}

var scheduleHeaders = []string{"ID", "NAME", "CADENCE", "TIMEZONE", "CATEGORY", "GIT_REF", "ENABLED", "NEXT_DUE"}

func scheduleRow(s ScheduleResponse) []string {
	return []string{
		s.ID, s.Name, cadence(s), s.Timezone, s.Category, s.GitRef,
		strconv.FormatBool(s.Enabled), dash(s.NextDueAt),
	}
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var filter *bool
			if enabledOnly {
				filter = &enabledOnly
			}

			schedules, err := client.ListSchedules(cmd.Context(), filter)
			if err != nil {
				return err
			}

			rows := make([][]string, len(schedules))
			for i, s := range schedules {
				rows[i] = scheduleRow(s)
			}

			out.Print(scheduleHeaders, rows, schedules)
			return nil
		},
	}

	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Show only enabled schedules")

	return cmd
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateScheduleRequest
	var disabled bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule",
		Example: `  conveyor schedule create --name nightly --cron "0 2 * * *" --timezone Europe/Moscow
  conveyor schedule create --name hourly-release --interval 3600 --category RELEASE --git-ref release/1.x`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req.Enabled = !disabled

			schedule, err := client.CreateSchedule(cmd.Context(), req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule created: %s", schedule.ID))
			out.Print(scheduleHeaders, [][]string{scheduleRow(*schedule)}, schedule)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Schedule name (required)")
	cmd.Flags().StringVar(&req.CronExpr, "cron", "", "Cron expression (e.g. '0 2 * * *' or '@daily')")
	cmd.Flags().IntVar(&req.IntervalSec, "interval", 0, "Interval in seconds")
	cmd.Flags().StringVar(&req.Timezone, "timezone", "", "Timezone (default: UTC)")
	cmd.Flags().StringVar(&req.Category, "category", "", "Category of created runs (default: NIGHTLY)")
	cmd.Flags().StringVar(&req.GitRef, "git-ref", "", "Git ref to build (default: main)")
	cmd.Flags().BoolVar(&req.PushToIndex, "push", false, "Publish artifacts of scheduled runs")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagsMutuallyExclusive("cron", "interval")

	return cmd
}

func newScheduleShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show schedule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			schedule, err := client.GetSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Print(
				append(scheduleHeaders, "LAST_RUN"),
				[][]string{append(scheduleRow(*schedule), dash(schedule.LastRunID))},
				schedule,
			)
			return nil
		},
	}
}

func newScheduleUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		name, cronExpr, timezone, category, gitRef string
		intervalSec                                int
		push                                       bool
	)

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flags := cmd.Flags()
			req := UpdateScheduleRequest{}
			if flags.Changed("name") {
				req.Name = &name
			}
			if flags.Changed("cron") {
				req.CronExpr = &cronExpr
			}
			if flags.Changed("interval") {
				req.IntervalSec = &intervalSec
				// Переход на интервал сбрасывает cron-выражение.
				if !flags.Changed("cron") {
					empty := ""
					req.CronExpr = &empty
				}
			}
			if flags.Changed("timezone") {
				req.Timezone = &timezone
			}
			if flags.Changed("category") {
				req.Category = &category
			}
			if flags.Changed("git-ref") {
				req.GitRef = &gitRef
			}
			if flags.Changed("push") {
				req.PushToIndex = &push
			}

			schedule, err := client.UpdateSchedule(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}

			out.Success("Schedule updated")
			out.Print(scheduleHeaders, [][]string{scheduleRow(*schedule)}, schedule)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New schedule name")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "New cron expression")
	cmd.Flags().IntVar(&intervalSec, "interval", 0, "New interval in seconds")
	cmd.Flags().StringVar(&timezone, "timezone", "", "New timezone")
	cmd.Flags().StringVar(&category, "category", "", "New run category")
	cmd.Flags().StringVar(&gitRef, "git-ref", "", "New git ref")
	cmd.Flags().BoolVar(&push, "push", false, "Publish artifacts of scheduled runs")
	cmd.MarkFlagsMutuallyExclusive("cron", "interval")

	return cmd
}

func newScheduleDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Schedule deleted: %s", args[0]))
			return nil
		},
	}
}

func newScheduleToggleCmd(clientFn func() *Client, outputFn func() *Output, enable bool) *cobra.Command {
	verb, title := "disable", "Disable"
	if enable {
		verb, title = "enable", "Enable"
	}

	return &cobra.Command{
		Use:   verb + " ID",
		Short: title + " a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := clientFn().SetScheduleEnabled(cmd.Context(), args[0], enable); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Schedule %sd: %s", verb, args[0]))
			return nil
		},
	}
}

// cadence — cron-выражение или интервал в человекочитаемом виде.
func cadence(s ScheduleResponse) string {
	if s.CronExpr != "" {
		return s.CronExpr
	}
	if s.IntervalSec > 0 {
		return "every " + strconv.Itoa(s.IntervalSec) + "s"
	}
	return "-"
}
