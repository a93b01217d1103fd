package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/guard"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"
)

// maxSecondFactorAttempts bounds how often one login re-prompts for a code.
const maxSecondFactorAttempts = 3

const secondFactorHint = "Enter the code from your authenticator app, or choose a backup code."

func (c *cli) loginCommand() *cobra.Command {
	var (
		email         string
		code          string
		backupCode    string
		passwordStdin bool
		remember      bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			creds := Credentials{Email: strings.TrimSpace(email), RememberMe: remember}
			if passwordStdin {
				pw, err := readLine(c.env.In)
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				creds.Password = pw
			}
			if creds.Email == "" || creds.Password == "" {
				prompted, err := c.env.Prompter.Credentials(ctx, creds.Email)
				if err != nil {
					return err
				}
				prompted.RememberMe = prompted.RememberMe || remember
				creds = prompted
			}

			mgr := c.app.Session()
			snap, err := mgr.SubmitCredentials(ctx, creds.Email, creds.Password, creds.RememberMe)
			if err != nil {
				return c.settle(err)
			}
			if snap.Status == domain.StatusAwaitingSecondFactor {
				if _, err := c.secondFactor(ctx, SecondFactor{Code: code}, backupCode); err != nil {
					return err
				}
			}

			if current, err := c.app.Tenants().Current(); err == nil {
				notify.Info(c.notifier, fmt.Sprintf("Working in client %s.", current.Name))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&email, "email", "", "account email")
	f.BoolVar(&passwordStdin, "password-stdin", false, "read the password from standard input")
	f.BoolVar(&remember, "remember", false, "keep the session for 30 days")
	f.StringVar(&code, "code", "", "authenticator code for accounts with two-factor authentication")
	f.StringVar(&backupCode, "backup-code", "", "one-time backup code instead of an authenticator code")
	return routed(cmd, guard.PathLogin)
}

// secondFactor answers the pending challenge. Codes given on the command line
// are tried first, then one generated from the configured TOTP secret, then
// the operator is asked. An abandoned challenge is cancelled.
func (c *cli) secondFactor(ctx context.Context, given SecondFactor, backup string) (domain.Session, error) {
	mgr := c.app.Session()
	if backup != "" {
		given = SecondFactor{Code: backup, Backup: true}
	}

	for attempt := 1; ; attempt++ {
		answer, err := c.nextFactor(ctx, attempt, given)
		given = SecondFactor{}
		if err != nil {
			_ = mgr.CancelChallenge()
			return mgr.Snapshot(), err
		}

		var snap domain.Session
		if answer.Backup {
			snap, err = mgr.SubmitBackupCode(ctx, answer.Code)
		} else {
			snap, err = mgr.SubmitSecondFactor(ctx, answer.Code)
		}
		if err == nil {
			return snap, nil
		}
		if snap.Status != domain.StatusAwaitingSecondFactor || attempt >= maxSecondFactorAttempts {
			_ = mgr.CancelChallenge()
			return mgr.Snapshot(), c.settle(err)
		}
	}
}

func (c *cli) nextFactor(ctx context.Context, attempt int, given SecondFactor) (SecondFactor, error) {
	if given.Code != "" {
		return given, nil
	}
	if secret := c.app.Config().TOTPSecret; secret != "" && attempt == 1 {
		code, err := totp.GenerateCode(secret, time.Now())
		if err != nil {
			return SecondFactor{}, fmt.Errorf("generate authenticator code: %w", err)
		}
		return SecondFactor{Code: code}, nil
	}
	return c.env.Prompter.SecondFactor(ctx, secondFactorHint)
}

func (c *cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of this session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr := c.app.Session()
			signedIn := mgr.Snapshot().Status == domain.StatusAuthenticated
			if err := mgr.Logout(cmd.Context()); err != nil {
				return err
			}
			if !signedIn {
				notify.Info(c.notifier, "Not signed in.")
			}
			return nil
		},
	}
}

func (c *cli) logoutAllCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "logout-all",
		Short: "Sign out of every other session, then this one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !yes {
				ok, err := c.env.Prompter.Confirm(ctx, "Sign out of all sessions on every device?")
				if err != nil {
					return err
				}
				if !ok {
					return ErrAborted
				}
			}
			_, err := c.app.Session().LogoutAll(ctx)
			return c.settle(err)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return routed(cmd, guard.PathSessions)
}

func (c *cli) passwordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Password recovery",
	}

	forgot := &cobra.Command{
		Use:   "forgot [email]",
		Short: "Email a password reset link",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var email string
			if len(args) == 1 {
				email = strings.TrimSpace(args[0])
			}
			if email == "" {
				var err error
				if email, err = c.env.Prompter.Email(ctx); err != nil {
					return err
				}
			}

			msg, err := c.app.API().ForgotPassword(ctx, email)
			if err != nil {
				return c.settleAPI(err)
			}
			notify.Success(c.notifier, msg)
			return nil
		},
	}
	cmd.AddCommand(routed(forgot, guard.PathForgotPassword))
	return cmd
}

// readLine reads one line, without its terminator.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}
