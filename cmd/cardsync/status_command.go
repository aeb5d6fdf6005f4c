package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cardsync/internal/config"
	"cardsync/internal/preflight"
	"cardsync/internal/requestcache"
	"cardsync/internal/syncengine"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

type statusReport struct {
	Checks []preflight.Result  `json:"checks"`
	Auth   authStatus          `json:"auth"`
	Cache  *requestcache.Stats `json:"cache,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show directory health, login state, and cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(cfg *config.Config, engine *syncengine.Engine) error {
				report := statusReport{
					Checks: preflight.RunAll(cfg),
					Auth:   collectAuthStatus(cfg, engine),
				}
				if probe {
					report.Checks = append(report.Checks, preflight.CheckEndpoint(cmd.Context(), "Content API", cfg.Content.BaseURL))
				}
				if cache := engine.Cache(); cache != nil {
					stats, err := cache.Stats(cmd.Context())
					if err != nil {
						return err
					}
					report.Cache = &stats
				}
				return ctx.emit(cmd, report, func() error {
					out := cmd.OutOrStdout()
					writeStatusReport(out, report, isTerminal(out))
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Also check that the content API is reachable")
	return cmd
}

func writeStatusReport(out io.Writer, report statusReport, colorize bool) {
	lines := renderSectionHeader("Paths", colorize)
	for _, check := range report.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Login", colorize)...)
	if report.Auth.LoggedIn {
		detail := "token stored"
		if report.Auth.ExpiresAt != nil {
			if until := time.Until(*report.Auth.ExpiresAt); until > 0 {
				detail = fmt.Sprintf("access token valid for %s", until.Round(time.Minute))
			} else {
				detail = "access token expired; it will be refreshed on next use"
			}
		}
		lines = append(lines, renderStatusLine("Account", statusOK, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Account", statusWarn, "not logged in (run 'cardsync auth login')", colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Request cache", colorize)...)
	if report.Cache == nil {
		lines = append(lines, renderStatusLine("Cache", statusInfo, "disabled", colorize))
	} else {
		c := report.Cache
		lines = append(lines, renderStatusLine("Cache", statusOK,
			fmt.Sprintf("%s, %d entries, %d bytes", c.Backend, c.Entries, c.Bytes), colorize))
		if c.IntegrityErrors > 0 {
			lines = append(lines, renderStatusLine("Integrity", statusWarn,
				fmt.Sprintf("%d corrupt entries discarded", c.IntegrityErrors), colorize))
		}
	}

	fmt.Fprintln(out, strings.Join(lines, "\n"))
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}
