package cli

// This file implements the ship command and the lambda command group:
// deploying a local image as a function and managing deployed functions.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Orcapt/orca-cli/internal/credentials"
	"github.com/Orcapt/orca-cli/internal/deploy"
	"github.com/Orcapt/orca-cli/internal/localimage"
	"github.com/Orcapt/orca-cli/internal/platform"
	"github.com/Orcapt/orca-cli/internal/registry"
	"github.com/Orcapt/orca-cli/internal/runner"
	"github.com/Orcapt/orca-cli/pkg/errx"
)

// Deployer runs one deployment.
type Deployer interface {
	Deploy(ctx context.Context, cfg deploy.Config, observer deploy.Observer) (*deploy.Result, error)
}

// DeployerFactory builds a Deployer for one command run. The returned
// release function frees its resources.
type DeployerFactory func() (Deployer, func(), error)

// LambdaAPI is the subset of the platform client used by the lambda commands.
type LambdaAPI interface {
	deploy.API
	ListLambdas(ctx context.Context, creds credentials.Bundle) ([]platform.Lambda, error)
	GetLambda(ctx context.Context, creds credentials.Bundle, name string) (*platform.Lambda, error)
	DeleteLambda(ctx context.Context, creds credentials.Bundle, name string) error
}

// LambdaManager handles function deployment and management with injected
// dependencies.
type LambdaManager struct {
	api         LambdaAPI
	store       CredentialStore
	newDeployer DeployerFactory
	printer     *Printer
	logger      *zap.Logger
}

// NewLambdaManager creates a LambdaManager with the given dependencies.
func NewLambdaManager(api LambdaAPI, store CredentialStore, newDeployer DeployerFactory, printer *Printer, logger *zap.Logger) *LambdaManager {
	if printer == nil {
		printer = DefaultPrinter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LambdaManager{
		api:         api,
		store:       store,
		newDeployer: newDeployer,
		printer:     printer,
		logger:      logger,
	}
}

// DefaultLambdaManager returns a LambdaManager wired to the platform API, the
// local docker daemon and the docker CLI.
func DefaultLambdaManager(logger *zap.Logger) *LambdaManager {
	cfg := LoadCLIConfig()
	api := platform.NewClient(cfg.PlatformConfig(), logger)
	store := credentials.NewStore(cfg.CredentialsFile)
	factory := func() (Deployer, func(), error) {
		images, err := localimage.New(logger)
		if err != nil {
			return nil, nil, err
		}
		publisher := registry.NewClient(runner.Default, cfg.RegistryOptions(), logger)
		orch := deploy.NewOrchestrator(images, publisher, api, store, cfg.DeployOptions(), logger)
		return orch, func() { _ = images.Close() }, nil
	}
	return NewLambdaManager(api, store, factory, DefaultPrinter, logger)
}

// NewShipCmd builds the ship command.
func NewShipCmd(logger *zap.Logger) *cobra.Command {
	return NewShipCmdWithManager(DefaultLambdaManager(logger))
}

// NewShipCmdWithManager returns the ship command using the provided manager.
func NewShipCmdWithManager(mgr *LambdaManager) *cobra.Command {
	cmd := mgr.newDeployCmd("ship <function-name>")
	cmd.Long = `Publish a local Docker image to the workspace registry and deploy it as a function.

The image must already exist locally. Upload credentials are requested from
the platform, the image is tagged and pushed with the docker CLI, and the
deployment is confirmed once the push completes.`
	cmd.Short = "Deploy a local image as a function"
	return cmd
}

// NewLambdaCmd builds the lambda command group.
func NewLambdaCmd(logger *zap.Logger) *cobra.Command {
	return NewLambdaCmdWithManager(DefaultLambdaManager(logger))
}

// NewLambdaCmdWithManager returns the lambda command group using the provided manager.
func NewLambdaCmdWithManager(mgr *LambdaManager) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lambda",
		Short: "Manage deployed functions",
		Long:  "Commands for deploying, listing, inspecting and deleting functions",
	}

	deployCmd := mgr.newDeployCmd("deploy <function-name>")
	deployCmd.Short = "Deploy a local image as a function (same as ship)"

	cmd.AddCommand(deployCmd)
	cmd.AddCommand(mgr.newListCmd())
	cmd.AddCommand(mgr.newInfoCmd())
	cmd.AddCommand(mgr.newDeleteCmd())

	return cmd
}

func (m *LambdaManager) newDeployCmd(use string) *cobra.Command {
	var image string
	var memory int
	var timeout int
	var envs []string
	var envFile string

	cmd := &cobra.Command{
		Use:  use,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			_, err := m.Ship(ctx, args[0], image, memory, timeout, envs, envFile)
			return err
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "Local image reference (required)")
	cmd.Flags().IntVar(&memory, "memory", 0, "Memory in MB (default from ORCA_DEFAULT_MEMORY_MB, 512)")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Timeout in seconds (default from ORCA_DEFAULT_TIMEOUT_SECONDS, 60)")
	cmd.Flags().StringArrayVar(&envs, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Read environment variables from a .env file")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}

// Ship deploys image as functionName and prints the outcome. Inline env
// entries override those read from envFile.
func (m *LambdaManager) Ship(ctx context.Context, functionName, image string, memory, timeout int, envs []string, envFile string) (*deploy.Result, error) {
	env, err := deploy.LoadEnvironment(envFile, envs)
	if err != nil {
		m.printer.Error(errx.UserString(err))
		logStructuredError(m.logger, err, "Invalid environment")
		return nil, err
	}
	cfg := deploy.Config{
		FunctionName:   functionName,
		Image:          image,
		MemoryMB:       memory,
		TimeoutSeconds: timeout,
		Environment:    env,
	}
	if err := cfg.Validate(); err != nil {
		m.printer.Error(errx.UserString(err))
		logStructuredError(m.logger, err, "Invalid deployment")
		return nil, err
	}

	deployer, release, err := m.newDeployer()
	if err != nil {
		m.printer.Error(errx.UserString(err))
		if hint := failureHint(err); hint != "" {
			m.printer.Info(hint)
		}
		logStructuredError(m.logger, err, "Failed to prepare deployment")
		return nil, err
	}
	if release != nil {
		defer release()
	}

	m.printer.Header(fmt.Sprintf("Deploying %s", functionName))
	observer := newDeployObserver(m.printer)
	result, err := deployer.Deploy(ctx, cfg, observer)
	if err != nil {
		observer.Fail()
		wrappedErr := errx.WrapSentinelWithContext(ErrDeployFailed, err, errx.UserString(err),
			map[string]any{"function": functionName, "image": image, "component": "lambda"})
		renderFailure(m.printer, err)
		logStructuredError(m.logger, wrappedErr, "Deployment failed")
		return nil, wrappedErr
	}
	renderResult(m.printer, result)
	return result, nil
}

func (m *LambdaManager) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List deployed functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return m.List(cmd.Context())
		},
	}
}

func (m *LambdaManager) newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <function-name>",
		Short: "Show a deployed function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return m.Info(cmd.Context(), args[0])
		},
	}
}

func (m *LambdaManager) newDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <function-name>",
		Short: "Delete a deployed function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				err := errx.NewFromSentinel(ErrFieldRequired,
					fmt.Sprintf("refusing to delete %s without --yes", args[0]))
				m.printer.Error(errx.UserString(err))
				return err
			}
			return m.Delete(cmd.Context(), args[0])
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the deletion")

	return cmd
}

// List prints the functions of the workspace.
func (m *LambdaManager) List(ctx context.Context) error {
	creds, err := m.loadCredentials()
	if err != nil {
		return err
	}
	fns, err := m.api.ListLambdas(ctx, *creds)
	if err != nil {
		return m.apiFailure(ErrListLambdasFailed, err, "Failed to list functions", nil)
	}
	if len(fns) == 0 {
		m.printer.Info("No functions deployed")
		return nil
	}
	rows := [][]string{{"Name", "Status", "Memory", "Timeout", "Region", "Updated"}}
	for _, fn := range fns {
		rows = append(rows, []string{
			fn.FunctionName,
			orDash(fn.Status),
			formatMemory(fn.MemoryMB),
			formatTimeout(fn.TimeoutSeconds),
			orDash(fn.Region),
			orDash(fn.UpdatedAt),
		})
	}
	m.printer.Table(rows)
	return nil
}

// Info prints one function.
func (m *LambdaManager) Info(ctx context.Context, name string) error {
	creds, err := m.loadCredentials()
	if err != nil {
		return err
	}
	fn, err := m.api.GetLambda(ctx, *creds, name)
	if err != nil {
		return m.apiFailure(ErrGetLambdaFailed, err, "Failed to get function", map[string]any{"function": name})
	}
	m.printer.TableBoxed([][]string{
		{"Field", "Value"},
		{"Name", fn.FunctionName},
		{"Status", orDash(fn.Status)},
		{"Image", orDash(fn.ImageURI)},
		{"Memory", formatMemory(fn.MemoryMB)},
		{"Timeout", formatTimeout(fn.TimeoutSeconds)},
		{"Region", orDash(fn.Region)},
		{"Invoke URL", orDash(fn.InvokeURL)},
		{"Queue URL", orDash(fn.QueueURL)},
		{"Updated", orDash(fn.UpdatedAt)},
	})
	return nil
}

// Delete removes one function.
func (m *LambdaManager) Delete(ctx context.Context, name string) error {
	creds, err := m.loadCredentials()
	if err != nil {
		return err
	}
	if err := m.api.DeleteLambda(ctx, *creds, name); err != nil {
		return m.apiFailure(ErrDeleteLambdaFailed, err, "Failed to delete function", map[string]any{"function": name})
	}
	m.logger.Info("Function deleted", zap.String("function", name))
	m.printer.Success(fmt.Sprintf("Function %s deleted", name))
	return nil
}

func (m *LambdaManager) loadCredentials() (*credentials.Bundle, error) {
	creds, err := m.store.Load()
	if err != nil {
		m.printer.Error(errx.UserString(err))
		if hint := failureHint(err); hint != "" {
			m.printer.Info(hint)
		}
		logStructuredError(m.logger, err, "Failed to load credentials")
		return nil, err
	}
	return creds, nil
}

func (m *LambdaManager) apiFailure(base, err error, msg string, fields map[string]any) error {
	wrappedErr := errx.WrapSentinelWithContext(base, err, fmt.Sprintf("%s: %s", msg, errx.UserString(err)), fields)
	m.printer.Error(errx.UserString(wrappedErr))
	if hint := failureHint(err); hint != "" {
		m.printer.Info(hint)
	}
	logStructuredError(m.logger, wrappedErr, msg)
	return wrappedErr
}

func formatMemory(mb int) string {
	if mb <= 0 {
		return "-"
	}
	return strconv.Itoa(mb) + " MB"
}

func formatTimeout(seconds int) string {
	if seconds <= 0 {
		return "-"
	}
	return strconv.Itoa(seconds) + "s"
}
