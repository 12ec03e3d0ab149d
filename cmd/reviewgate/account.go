package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/LeventeLantos/reviewgate/internal/config"
	"github.com/LeventeLantos/reviewgate/internal/model"
	"github.com/LeventeLantos/reviewgate/internal/repo"
)

// Accounts are normally written by the billing and settings flows. These
// commands exist for local setup and support.
func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newAccountPutCmd())
	return cmd
}

type accountFlags struct {
	id           string
	businessName string
	reviewURL    string
	status       string
	monthlyLimit int
	trialEnds    string
	smsDelay     int
	nudge        bool
	nudgeDelay   int
}

func (f accountFlags) account(now time.Time) (*model.Account, error) {
	a := &model.Account{
		ID:                  f.id,
		BusinessName:        strings.TrimSpace(f.businessName),
		ReviewURL:           strings.TrimSpace(f.reviewURL),
		SubscriptionStatus:  model.SubscriptionStatus(strings.ToLower(f.status)),
		MonthlyRequestLimit: f.monthlyLimit,
		SMSDelayHours:       f.smsDelay,
		NudgeEnabled:        f.nudge,
		NudgeDelayHours:     f.nudgeDelay,
		CreatedAt:           now.UTC(),
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	var errs []error
	if f.trialEnds != "" {
		t, err := time.Parse(time.RFC3339, f.trialEnds)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid --trial-ends: %w", err))
		} else {
			t = t.UTC()
			a.TrialEndsAt = &t
		}
	}
	if err := a.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return a, nil
}

func newAccountPutCmd() *cobra.Command {
	var f accountFlags

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or replace an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := f.account(time.Now())
			if err != nil {
				return err
			}

			dbCfg, err := config.LoadDatabase()
			if err != nil {
				return err
			}
			db, dialect, err := openStore(cmd.Context(), dbCfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repo.Migrate(db, dialect); err != nil {
				return err
			}
			if err := repo.NewSQLStore(db, dialect).SaveAccount(cmd.Context(), acc); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), acc.ID)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.id, "id", "", "account id (generated when empty)")
	fl.StringVar(&f.businessName, "business-name", "", "business name shown in messages")
	fl.StringVar(&f.reviewURL, "review-url", "", "public review page for happy customers")
	fl.StringVar(&f.status, "status", string(model.Trialing), "subscription status: trialing, active, past_due, cancelled")
	fl.IntVar(&f.monthlyLimit, "monthly-limit", 50, "review requests allowed per calendar month")
	fl.StringVar(&f.trialEnds, "trial-ends", "", "trial end as RFC3339")
	fl.IntVar(&f.smsDelay, "sms-delay", 0, "hours between creation and send")
	fl.BoolVar(&f.nudge, "nudge", true, "send one follow-up when the link is not opened")
	fl.IntVar(&f.nudgeDelay, "nudge-delay", 48, "hours between send and follow-up")
	_ = cmd.MarkFlagRequired("business-name")
	_ = cmd.MarkFlagRequired("review-url")
	return cmd
}
