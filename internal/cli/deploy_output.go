package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Orcapt/orca-cli/internal/credentials"
	"github.com/Orcapt/orca-cli/internal/deploy"
	"github.com/Orcapt/orca-cli/internal/localimage"
	"github.com/Orcapt/orca-cli/internal/platform"
	"github.com/Orcapt/orca-cli/internal/registry"
	"github.com/Orcapt/orca-cli/pkg/errx"
)

const unknownRegion = "unknown"

var stageLabels = map[deploy.Stage]string{
	deploy.StageValidating:            "Validating local image",
	deploy.StageRequestingCredentials: "Requesting upload credentials",
	deploy.StageAuthenticating:        "Authenticating with registry",
	deploy.StageTagging:               "Tagging image",
	deploy.StagePushing:               "Pushing image",
	deploy.StageConfirming:            "Confirming deployment",
}

// deployObserver renders stage changes as spinners and push progress as a bar.
// Callbacks arrive on the deploying goroutine.
type deployObserver struct {
	printer *Printer
	stage   deploy.Stage
	active  bool
	stop    func(ok bool, final string)
	bar     *ProgressBar
}

func newDeployObserver(p *Printer) *deployObserver {
	return &deployObserver{printer: p}
}

func (o *deployObserver) StageChanged(stage deploy.Stage) {
	if o.active && o.stage == stage {
		return
	}
	o.end(true)
	o.stage = stage
	if stage == deploy.StageDone {
		return
	}
	o.active = true
	label := stageLabels[stage]
	if stage == deploy.StagePushing {
		o.bar = o.printer.ProgressStart(label)
		return
	}
	o.stop = o.printer.SpinnerStart(label)
}

func (o *deployObserver) Progress(p registry.Progress) {
	if o.bar == nil {
		return
	}
	detail := ""
	if p.TotalLayers > 0 {
		detail = fmt.Sprintf("(%d/%d layers)", p.CompletedLayers, p.TotalLayers)
	}
	o.bar.Update(p.Percent, detail)
}

// Fail ends the running stage as failed.
func (o *deployObserver) Fail() {
	o.end(false)
}

func (o *deployObserver) end(ok bool) {
	if !o.active {
		return
	}
	o.active = false
	if o.bar != nil {
		o.bar.Stop()
		o.bar = nil
	}
	if o.stop != nil {
		label := stageLabels[o.stage]
		if !ok {
			label += " failed"
		}
		o.stop(ok, label)
		o.stop = nil
	}
}

// failureHint suggests what to do about a failed deployment. It returns ""
// when there is nothing better to say than the error itself.
func failureHint(err error) string {
	stage, _ := deploy.FailedStage(err)
	herr, isHTTP := platform.AsHTTPError(err)

	switch {
	case errors.Is(err, context.Canceled):
		if stage >= deploy.StagePushing {
			return "Interrupted. The image may be partially pushed; run the command again to finish the deployment."
		}
		return "Interrupted before anything was pushed."
	case errors.Is(err, credentials.ErrNotAuthenticated):
		return "Run 'orca login --workspace <id> --token <token>' first."
	case errors.Is(err, localimage.ErrDockerUnavailable):
		return "Start Docker and check that DOCKER_HOST points at a running daemon."
	case errors.Is(err, deploy.ErrImageNotFound):
		return "Build the image first, or check the --image reference with 'docker images'."
	case errors.Is(err, deploy.ErrValidation):
		return "Check the command arguments and run it again."
	case isHTTP && (herr.StatusCode == http.StatusUnauthorized || herr.StatusCode == http.StatusForbidden):
		return "The platform rejected your credentials. Check them with 'orca whoami' and run 'orca login' again if needed."
	case platform.IsTransport(err):
		return "Check your network connection and the ORCA_API_URL setting."
	case errors.Is(err, registry.ErrLoginFailed), errors.Is(err, registry.ErrLoginTimeout):
		return "The registry refused the upload credentials. They are short lived, so run the command again."
	case errors.Is(err, registry.ErrPushStalled):
		return "The push made no progress. Check your connection to the registry and try again."
	case stage == deploy.StageTagging:
		return "Check that the local image still exists with 'docker images'."
	case stage == deploy.StagePushing:
		return "Check your connection to the registry and try again."
	case stage == deploy.StageConfirming:
		return "The image is already in the registry. Run the command again to retry the confirmation."
	}
	return ""
}

// renderFailure prints the failed stage, its message and a hint.
func renderFailure(p *Printer, err error) {
	msg := errx.UserString(err)
	if stage, ok := deploy.FailedStage(err); ok {
		msg = fmt.Sprintf("Deployment failed while %s: %s", stage, msg)
	}
	p.Error(msg)
	if hint := failureHint(err); hint != "" {
		p.Info(hint)
	}
	if IsDebugMode() {
		p.Println(errx.DebugString(err))
	}
}

// renderResult prints a deployed function.
func renderResult(p *Printer, r *deploy.Result) {
	p.Success(fmt.Sprintf("Function %s deployed", r.FunctionName))
	region := r.Region
	if region == "" {
		region = unknownRegion
	}
	rows := [][]string{
		{"Field", "Value"},
		{"Function", r.FunctionName},
		{"Image", r.ImageURI},
		{"Region", region},
		{"Memory", strconv.Itoa(r.MemoryMB) + " MB"},
		{"Timeout", strconv.Itoa(r.TimeoutSeconds) + "s"},
	}
	if r.ImageSizeBytes > 0 {
		rows = append(rows, []string{"Image size", formatBytes(r.ImageSizeBytes)})
	}
	if r.InvokeURL != "" {
		rows = append(rows, []string{"Invoke URL", r.InvokeURL})
	}
	if r.QueueURL != "" {
		rows = append(rows, []string{"Queue URL", r.QueueURL})
	}
	if r.DeploymentID != "" {
		rows = append(rows, []string{"Deployment", r.DeploymentID})
	}
	p.TableBoxed(rows)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
