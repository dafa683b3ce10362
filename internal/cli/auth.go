package cli

// This file implements the login, logout and whoami commands that manage the
// workspace credential bundle used by every platform API request.

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Orcapt/orca-cli/internal/credentials"
	"github.com/Orcapt/orca-cli/pkg/errx"
)

var validModes = []string{"prod", "dev"}

// CredentialStore persists the credential bundle.
type CredentialStore interface {
	Load() (*credentials.Bundle, error)
	Save(b credentials.Bundle) error
	Clear() error
	Path() string
}

// AuthManager handles credential commands with injected dependencies.
type AuthManager struct {
	store   CredentialStore
	printer *Printer
	logger  *zap.Logger
}

// NewAuthManager creates an AuthManager with the given dependencies.
func NewAuthManager(store CredentialStore, printer *Printer, logger *zap.Logger) *AuthManager {
	if printer == nil {
		printer = DefaultPrinter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthManager{store: store, printer: printer, logger: logger}
}

// DefaultAuthManager returns an AuthManager backed by the configured
// credentials file.
func DefaultAuthManager(logger *zap.Logger) *AuthManager {
	cfg := LoadCLIConfig()
	return NewAuthManager(credentials.NewStore(cfg.CredentialsFile), DefaultPrinter, logger)
}

// NewLoginCmd builds the login command.
func NewLoginCmd(logger *zap.Logger) *cobra.Command {
	return NewLoginCmdWithManager(DefaultAuthManager(logger))
}

// NewLoginCmdWithManager returns the login command using the provided manager.
func NewLoginCmdWithManager(mgr *AuthManager) *cobra.Command {
	var workspace string
	var token string
	var tokenStdin bool
	var mode string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store workspace credentials",
		Long:  "Store the workspace and API token used to talk to the Orca platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tokenStdin {
				read, err := readToken(cmd.InOrStdin())
				if err != nil {
					return err
				}
				token = read
			}
			return mgr.Login(workspace, token, mode)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace identifier")
	cmd.Flags().StringVar(&token, "token", "", "API token")
	cmd.Flags().BoolVar(&tokenStdin, "token-stdin", false, "Read the API token from stdin")
	cmd.Flags().StringVar(&mode, "mode", credentials.DefaultMode, "Platform mode ("+strings.Join(validModes, ", ")+")")

	return cmd
}

// NewLogoutCmd builds the logout command.
func NewLogoutCmd(logger *zap.Logger) *cobra.Command {
	return NewLogoutCmdWithManager(DefaultAuthManager(logger))
}

// NewLogoutCmdWithManager returns the logout command using the provided manager.
func NewLogoutCmdWithManager(mgr *AuthManager) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mgr.Logout()
		},
	}
}

// NewWhoamiCmd builds the whoami command.
func NewWhoamiCmd(logger *zap.Logger) *cobra.Command {
	return NewWhoamiCmdWithManager(DefaultAuthManager(logger))
}

// NewWhoamiCmdWithManager returns the whoami command using the provided manager.
func NewWhoamiCmdWithManager(mgr *AuthManager) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mgr.Whoami()
		},
	}
}

// Login validates and stores the bundle.
func (m *AuthManager) Login(workspace, token, mode string) error {
	workspace = strings.TrimSpace(workspace)
	token = strings.TrimSpace(token)
	mode = strings.TrimSpace(mode)
	if mode == "" {
		mode = credentials.DefaultMode
	}

	var missing []string
	if workspace == "" {
		missing = append(missing, "--workspace")
	}
	if token == "" {
		missing = append(missing, "--token")
	}
	if len(missing) > 0 {
		err := errx.NewFromSentinel(ErrFieldRequired, fmt.Sprintf("%s required", strings.Join(missing, " and ")))
		m.printer.Error(errx.UserString(err))
		logStructuredError(m.logger, err, "Login rejected")
		return err
	}
	if !slices.Contains(validModes, mode) {
		err := errx.NewFromSentinel(ErrInvalidMode,
			fmt.Sprintf("invalid mode %q: expected one of %s", mode, strings.Join(validModes, ", ")))
		m.printer.Error(errx.UserString(err))
		logStructuredError(m.logger, err, "Login rejected")
		return err
	}

	if err := m.store.Save(credentials.Bundle{Workspace: workspace, Token: token, Mode: mode}); err != nil {
		wrappedErr := errx.WrapSentinelWithContext(ErrSaveCredentials, err, errx.UserString(err),
			map[string]any{"path": m.store.Path(), "component": "auth"})
		m.printer.Error("Failed to save credentials")
		logStructuredError(m.logger, wrappedErr, "Failed to save credentials")
		return wrappedErr
	}
	m.logger.Info("Credentials saved", zap.String("workspace", workspace), zap.String("mode", mode), zap.String("path", m.store.Path()))
	m.printer.Success(fmt.Sprintf("Logged in to workspace %s (%s)", workspace, mode))
	return nil
}

// Logout removes the stored bundle.
func (m *AuthManager) Logout() error {
	if err := m.store.Clear(); err != nil {
		m.printer.Error("Failed to remove credentials")
		logStructuredError(m.logger, err, "Failed to remove credentials")
		return err
	}
	m.printer.Success("Logged out")
	return nil
}

// Whoami prints the active bundle without the token.
func (m *AuthManager) Whoami() error {
	b, err := m.store.Load()
	if err != nil {
		m.printer.Error(errx.UserString(err))
		logStructuredError(m.logger, err, "Failed to load credentials")
		return err
	}
	m.printer.Table([][]string{
		{"Workspace", "Mode", "Token", "Source"},
		{b.Workspace, b.Mode, maskToken(b.Token), m.store.Path()},
	})
	return nil
}

func readToken(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errx.WrapSentinel(ErrFieldRequired, err, fmt.Sprintf("failed to read token from stdin: %v", err))
	}
	return strings.TrimSpace(line), nil
}

// maskToken keeps the last four characters.
func maskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", 8) + token[len(token)-4:]
}
