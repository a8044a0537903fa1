package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/FlashTrack/internal/agent"
	"github.com/soaringjerry/FlashTrack/internal/checkin"
	"github.com/soaringjerry/FlashTrack/internal/device"
	"github.com/soaringjerry/FlashTrack/internal/reminders"
)

func newOnboardCmd(build appFactory) *cobra.Command {
	var accessCode string
	cmd := &cobra.Command{
		Use:   "onboard <participant-code>",
		Short: "Register this device with a participant code and schedule reminders",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(build, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			res, err := a.agent.Onboard(ctx, accessCode, args[0])
			if err != nil {
				return err
			}
			printf(cmd, "Onboarded as %s, study day 1 is %s.\n", res.Participant.Code, res.Participant.StartDate)
			switch {
			case errors.Is(res.Reminders, reminders.ErrPermissionDenied):
				printf(cmd, "Notifications are disabled; run `flashtrack schedule` after enabling them.\n")
			case res.Reminders != nil:
				printf(cmd, "Reminders could not be scheduled: %v\n", res.Reminders)
			default:
				printf(cmd, "Daily reminders scheduled.\n")
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&accessCode, "access-code", "", "study access code")
	_ = cmd.MarkFlagRequired("access-code")
	return cmd
}

func newStatusCmd(build appFactory) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show today's check-in windows",
		Args:  cobra.NoArgs,
		RunE: withApp(build, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			st, err := a.agent.Status(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			writeStatus(cmd, st)
			if st.StudyDay == st.TotalDays {
				eos, err := a.agent.EndOfStudy(ctx)
				if err != nil {
					a.logger.Debug("end-of-study state unavailable", slog.String("error", err.Error()))
				} else if eos.Open() {
					printf(cmd, "This is the last study day: run `flashtrack finish` to answer the end-of-study questionnaire.\n")
				}
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func writeStatus(cmd *cobra.Command, st *checkin.CheckInStatus) {
	printf(cmd, "Day %d of %d\n", st.StudyDay, st.TotalDays)
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, w := range st.Windows {
		mark := " "
		if w.Current {
			mark = ">"
		}
		state := "pending"
		if w.Completed {
			state = "done"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\tnext %s\n", mark, w.TimeOfDay, w.Name, state, w.NextReminderAt.Local().Format("Mon 15:04"))
	}
	_ = tw.Flush()
	if st.CurrentCompleted {
		printf(cmd, "The current check-in is complete until %s.\n", st.CurrentEnd.Local().Format("15:04"))
	} else {
		printf(cmd, "The current check-in is open until %s.\n", st.CurrentEnd.Local().Format("15:04"))
	}
}

// parseAnswers reads "<question id>=<count>" pairs.
func parseAnswers(pairs []string) (map[int]int, error) {
	out := make(map[int]int, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("answer %q is not <question>=<count>", p)
		}
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("answer %q: bad question id", p)
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("answer %q: bad count", p)
		}
		out[id] = n
	}
	return out, nil
}

func newSubmitCmd(build appFactory) *cobra.Command {
	var answers []string
	cmd := &cobra.Command{
		Use:     "submit",
		Short:   "Submit a check-in",
		Example: "  flashtrack submit -a 1=2 -a 2=0",
		Args:    cobra.NoArgs,
		RunE: withApp(build, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			if len(answers) == 0 {
				qs, err := a.agent.Questions(ctx)
				if err != nil {
					return err
				}
				sort.Slice(qs, func(i, j int) bool { return qs[i].ID < qs[j].ID })
				printf(cmd, "Answer each question with -a <id>=<count>:\n")
				for _, q := range qs {
					printf(cmd, "  %d  %s\n", q.ID, q.Text)
				}
				return errors.New("no answers given")
			}
			parsed, err := parseAnswers(answers)
			if err != nil {
				return err
			}
			sub, err := a.agent.Submit(ctx, parsed)
			if err != nil {
				return err
			}
			printf(cmd, "Check-in recorded at %s.\n", sub.CreatedAt.Local().Format(time.DateTime))
			return nil
		}),
	}
	cmd.Flags().StringArrayVarP(&answers, "answer", "a", nil, "answer as <question id>=<count>, repeatable")
	return cmd
}

func newFinishCmd(build appFactory) *cobra.Command {
	var ratings []string
	cmd := &cobra.Command{
		Use:     "finish",
		Short:   "Answer the end-of-study questionnaire on the last study day",
		Example: "  flashtrack finish -a 1=7 -a 2=3 -a 3=10",
		Args:    cobra.NoArgs,
		RunE: withApp(build, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			st, err := a.agent.EndOfStudy(ctx)
			if err != nil {
				return err
			}
			switch {
			case st.Submitted:
				printf(cmd, "You have already completed the end-of-study questionnaire. Thank you!\n")
				return nil
			case !st.Open():
				printf(cmd, "The end-of-study questionnaire opens on day %d; today is day %d.\n", st.TotalDays, st.StudyDay)
				return nil
			}
			if len(ratings) == 0 {
				printf(cmd, "Rate each statement from 0 to 10 with -a <id>=<rating>:\n")
				for i, q := range st.Questions {
					printf(cmd, "  Q%d  id %d  %s\n", i+1, q.ID, q.Text)
				}
				return errors.New("no ratings given")
			}
			parsed, err := parseAnswers(ratings)
			if err != nil {
				return err
			}
			if _, err := a.agent.SubmitEndOfStudy(ctx, parsed); err != nil {
				if errors.Is(err, agent.ErrEndOfStudyDone) {
					printf(cmd, "You have already completed the end-of-study questionnaire. Thank you!\n")
					return nil
				}
				return err
			}
			printf(cmd, "Thank you for taking part in the study!\n")
			return nil
		}),
	}
	cmd.Flags().StringArrayVarP(&ratings, "answer", "a", nil, "rating as <question id>=<0-10>, repeatable")
	return cmd
}

func newScheduleCmd(build appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Refresh the time windows and re-register daily reminders",
		Args:  cobra.NoArgs,
		RunE: withApp(build, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			if err := a.agent.Reschedule(ctx); err != nil {
				return err
			}
			c, err := a.agent.Catalog(ctx)
			if err != nil {
				return err
			}
			for _, p := range reminders.Plan(c, time.Now()) {
				printf(cmd, "%s  %s  next at %s\n", p.Window.At, p.Window.Name, p.FireAt.Format("Mon 15:04"))
			}
			return nil
		}),
	}
}

func newRunCmd(build appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Deliver reminders as they come due until interrupted",
		Args:  cobra.NoArgs,
		RunE: withApp(build, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.agent.Reschedule(ctx); err != nil {
				logRescheduleFailure(ctx, a, err)
			}
			d := device.NewDispatcher(a.store, device.LogNotifier{Logger: a.logger}, a.poll, a.logger)
			a.logger.Info("reminder dispatcher started", slog.Duration("interval", a.poll))
			err := d.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}),
	}
}

// logRescheduleFailure reports what the dispatcher is left with after a
// failed start-up reschedule. A refresh failure keeps the old triggers,
// a permission refusal has already cancelled them.
func logRescheduleFailure(ctx context.Context, a *app, err error) {
	if errors.Is(err, reminders.ErrPermissionDenied) {
		a.logger.Warn("reminders disabled, notification permission denied")
		return
	}
	registered, listErr := a.store.Triggers(ctx)
	if listErr != nil {
		a.logger.Error("reschedule failed", slog.String("error", err.Error()), slog.String("list_error", listErr.Error()))
		return
	}
	if len(registered) == 0 {
		a.logger.Error("reschedule failed, no reminders registered", slog.String("error", err.Error()))
		return
	}
	a.logger.Warn("reschedule failed, using previously registered reminders",
		slog.String("error", err.Error()), slog.Int("count", len(registered)))
}

func newDeleteCmd(build appFactory) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete all of your study data from the server and this device",
		Args:  cobra.NoArgs,
		RunE: withApp(build, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			if !yes {
				return errors.New("this permanently deletes your data; pass --yes to confirm")
			}
			if err := a.agent.DeleteData(ctx); err != nil {
				return err
			}
			printf(cmd, "Your data has been deleted.\n")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newCodeCmd(build appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Show the participant code stored on this device",
		Args:  cobra.NoArgs,
		RunE: withApp(build, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			code, err := a.agent.Code(ctx)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", code)
			return nil
		}),
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <participant-code>",
		Short: "Check whether a participant code is still available",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(build, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			ok, err := a.agent.CheckCode(ctx, args[0])
			if err != nil {
				return err
			}
			if ok {
				printf(cmd, "%s is available\n", args[0])
			} else {
				printf(cmd, "%s is already taken\n", args[0])
			}
			return nil
		}),
	})
	return cmd
}
