package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cardsync/internal/config"
	"cardsync/internal/services"
	"cardsync/internal/syncengine"
)

func newAuthCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the content service login",
	}

	cmd.AddCommand(newAuthLoginCommand(ctx))
	cmd.AddCommand(newAuthStatusCommand(ctx))
	cmd.AddCommand(newAuthLogoutCommand(ctx))

	return cmd
}

func newAuthLoginCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in using the device authorization flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(cfg *config.Config, engine *syncengine.Engine) error {
				if err := cfg.RequireClientID(); err != nil {
					return err
				}
				session := engine.Session()

				auth, err := session.BeginDeviceAuth(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				uri := auth.VerificationURIComplete
				if strings.TrimSpace(uri) == "" {
					uri = auth.VerificationURI
				}
				fmt.Fprintln(out, "Open the following URL to authorize cardsync:")
				fmt.Fprintf(out, "\n    %s\n\n", uri)
				fmt.Fprintf(out, "If asked for a code, enter: %s\n\n", auth.UserCode)
				fmt.Fprintf(out, "Waiting for authorization until %s... (Ctrl+C to abort)\n",
					auth.ExpiresAt().Local().Format(time.Kitchen))

				progress := startProgress(cmd.ErrOrStderr())
				task := session.Start(cmd.Context(), auth, progress.Channel())
				_, err = task.Wait()
				progress.Stop()
				if err != nil {
					if errors.Is(err, services.ErrAuthExpired) {
						return fmt.Errorf("%w; run 'cardsync auth login' again", err)
					}
					return err
				}
				fmt.Fprintln(out, "Logged in.")
				return nil
			})
		},
	}
}

type authStatus struct {
	LoggedIn  bool       `json:"loggedIn"`
	State     string     `json:"state"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	TokenPath string     `json:"tokenPath"`
}

func newAuthStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a login is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(cfg *config.Config, engine *syncengine.Engine) error {
				status := collectAuthStatus(cfg, engine)
				return ctx.emit(cmd, status, func() error {
					pairs := [][2]string{
						{"Logged in", yesNo(status.LoggedIn)},
						{"Token file", status.TokenPath},
					}
					if status.ExpiresAt != nil {
						pairs = append(pairs, [2]string{"Access token expires", status.ExpiresAt.Local().Format(time.RFC1123)})
					}
					fmt.Fprintln(cmd.OutOrStdout(), renderDetails(pairs))
					return nil
				})
			})
		},
	}
}

func collectAuthStatus(cfg *config.Config, engine *syncengine.Engine) authStatus {
	session := engine.Session()
	status := authStatus{
		LoggedIn:  session.HasToken(),
		State:     session.State().String(),
		TokenPath: cfg.TokenPath(),
	}
	if expiry, ok := session.TokenExpiry(); ok {
		status.ExpiresAt = &expiry
	}
	return status
}

func newAuthLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored login",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(cfg *config.Config, engine *syncengine.Engine) error {
				if err := engine.Session().Logout(); err != nil {
					return err
				}
				if cache := engine.Cache(); cache != nil {
					if err := cache.Clear(cmd.Context()); err != nil {
						return fmt.Errorf("clear request cache: %w", err)
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
				return nil
			})
		},
	}
}
