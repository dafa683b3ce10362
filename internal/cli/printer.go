package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// Printer writes user-facing output. Quiet suppresses everything except
// errors and tables. Styling and animation are only used on a terminal.
type Printer struct {
	Quiet bool
	Out   io.Writer

	mu sync.Mutex
}

// DefaultPrinter writes to stdout.
var DefaultPrinter = &Printer{}

var (
	interactiveOnce sync.Once
	interactive     bool
)

// isInteractive reports whether stdout is a terminal.
func isInteractive() bool {
	interactiveOnce.Do(func() {
		interactive = term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""
		if !interactive {
			pterm.DisableStyling()
		}
	})
	return interactive
}

func (p *Printer) writer() io.Writer {
	if p.Out != nil {
		return p.Out
	}
	return os.Stdout
}

// animated reports whether spinners and bars may redraw in place.
func (p *Printer) animated() bool {
	return p.Out == nil && isInteractive()
}

func (p *Printer) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	_, _ = io.WriteString(p.writer(), s)
}

func (p *Printer) Printf(format string, args ...any) {
	if p.Quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.writer(), format, args...)
}

func (p *Printer) Println(args ...any) {
	if p.Quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.writer(), args...)
}

func (p *Printer) Header(title string) {
	if p.Quiet {
		return
	}
	isInteractive()
	p.write(pterm.DefaultHeader.Sprint(title))
}

func (p *Printer) Section(title string) {
	if p.Quiet {
		return
	}
	isInteractive()
	p.write(pterm.DefaultSection.Sprint(title))
}

func (p *Printer) Step(msg string) {
	if p.Quiet {
		return
	}
	isInteractive()
	p.write(Cyan("→ ") + msg)
}

func (p *Printer) Info(msg string) {
	if p.Quiet {
		return
	}
	isInteractive()
	p.write(pterm.Info.Sprint(msg))
}

func (p *Printer) Success(msg string) {
	if p.Quiet {
		return
	}
	isInteractive()
	p.write(pterm.Success.Sprint(msg))
}

func (p *Printer) Warn(msg string) {
	if p.Quiet {
		return
	}
	isInteractive()
	p.write(pterm.Warning.Sprint(msg))
}

// Error is printed even in quiet mode.
func (p *Printer) Error(msg string) {
	isInteractive()
	p.write(pterm.Error.Sprint(msg))
}

// Table renders rows with the first row as header.
func (p *Printer) Table(data [][]string) {
	p.table(data, false)
}

// TableBoxed renders rows inside a box.
func (p *Printer) TableBoxed(data [][]string) {
	p.table(data, true)
}

func (p *Printer) table(data [][]string, boxed bool) {
	if len(data) == 0 {
		return
	}
	isInteractive()
	tbl := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData(data))
	if boxed {
		tbl = tbl.WithBoxed()
	}
	out, err := tbl.Srender()
	if err != nil {
		for _, row := range data {
			p.write(strings.Join(row, "\t"))
		}
		return
	}
	p.write(out)
}

// SpinnerStart shows msg with a spinner. The returned stop function ends it
// with a success or failure line.
func (p *Printer) SpinnerStart(msg string) func(ok bool, final string) {
	if p.Quiet {
		return func(bool, string) {}
	}
	if !p.animated() {
		p.Step(msg)
		return func(ok bool, final string) {
			if final == "" {
				return
			}
			if ok {
				p.Success(final)
			} else {
				p.Error(final)
			}
		}
	}
	spinner, err := pterm.DefaultSpinner.WithRemoveWhenDone(false).Start(msg)
	if err != nil {
		p.Step(msg)
		return func(bool, string) {}
	}
	var once sync.Once
	return func(ok bool, final string) {
		once.Do(func() {
			if final == "" {
				final = msg
			}
			if ok {
				spinner.Success(final)
			} else {
				spinner.Fail(final)
			}
		})
	}
}

// ProgressBar tracks a percentage. Without a terminal it prints a line at
// every tenth of progress.
type ProgressBar struct {
	p      *Printer
	bar    *pterm.ProgressbarPrinter
	title  string
	last   int
	closed bool
}

// ProgressStart starts a bar from 0 to 100.
func (p *Printer) ProgressStart(title string) *ProgressBar {
	pb := &ProgressBar{p: p, title: title, last: -1}
	if p.Quiet || !p.animated() {
		return pb
	}
	bar, err := pterm.DefaultProgressbar.WithTotal(100).WithTitle(title).WithRemoveWhenDone(false).Start()
	if err == nil {
		pb.bar = bar
	}
	return pb
}

// Update moves the bar to percent, never backwards.
func (b *ProgressBar) Update(percent int, detail string) {
	if b.closed || percent <= b.last {
		return
	}
	prev := b.last
	b.last = percent
	if b.bar != nil {
		if detail != "" {
			b.bar.UpdateTitle(b.title + " " + detail)
		}
		b.bar.Add(percent - b.bar.Current)
		return
	}
	if b.p.Quiet {
		return
	}
	if prev < 0 || percent/10 > prev/10 || percent == 100 {
		line := fmt.Sprintf("%s %3d%%", b.title, percent)
		if detail != "" {
			line += " " + detail
		}
		b.p.write(line)
	}
}

// Stop ends the bar.
func (b *ProgressBar) Stop() {
	if b.closed {
		return
	}
	b.closed = true
	if b.bar != nil {
		_, _ = b.bar.Stop()
	}
}

func Header(title string)        { DefaultPrinter.Header(title) }
func Section(title string)       { DefaultPrinter.Section(title) }
func Step(msg string)            { DefaultPrinter.Step(msg) }
func Info(msg string)            { DefaultPrinter.Info(msg) }
func Success(msg string)         { DefaultPrinter.Success(msg) }
func Warn(msg string)            { DefaultPrinter.Warn(msg) }
func Error(msg string)           { DefaultPrinter.Error(msg) }
func Table(data [][]string)      { DefaultPrinter.Table(data) }
func TableBoxed(data [][]string) { DefaultPrinter.TableBoxed(data) }
func Green(a ...any) string      { return pterm.Green(a...) }
func Yellow(a ...any) string     { return pterm.Yellow(a...) }
func Red(a ...any) string        { return pterm.Red(a...) }
func Cyan(a ...any) string       { return pterm.Cyan(a...) }
