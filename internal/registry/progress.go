package registry

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Orcapt/orca-cli/internal/runner"
)

const (
	// maxLineBytes bounds a partial line held between chunks.
	maxLineBytes = 64 * 1024
	// maxDetailLines bounds the stderr lines kept for failure messages.
	maxDetailLines = 20
)

var (
	pushingLine  = regexp.MustCompile(`(?i)^(\w+):\s+Pushing\s+\[[^\]]*\]\s+([0-9]+(?:\.[0-9]+)?)\s*([KMG]?B)\s*/\s*([0-9]+(?:\.[0-9]+)?)\s*([KMG]?B)`)
	terminalLine = regexp.MustCompile(`^(\w+):\s+(?:Pushed|Layer already exists)\s*$`)
	discoverLine = regexp.MustCompile(`^(\w+):\s+(?:Preparing|Waiting)\s*$`)
	failureWords = []string{"error", "denied", "unauthorized"}
)

// LayerStatus is the push state of a single layer.
type LayerStatus string

const (
	StatusPreparing LayerStatus = "preparing"
	StatusPushing   LayerStatus = "pushing"
	StatusComplete  LayerStatus = "complete"
)

// Layer tracks upload progress for one image layer.
type Layer struct {
	ID           string
	TotalBytes   int64
	CurrentBytes int64
	Completed    bool
	Status       LayerStatus
}

// Progress is an aggregate push progress event.
type Progress struct {
	Percent         int
	CompletedLayers int
	TotalLayers     int
}

// Session holds the layers seen during one push. Layers are never removed and
// a completed layer stays completed.
type Session struct {
	layers    map[string]*Layer
	completed int
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{layers: make(map[string]*Layer)}
}

// Apply folds one line of push output into the session.
// It reports whether the line was a progress line.
func (s *Session) Apply(line string) bool {
	line = strings.TrimSpace(line)
	if m := pushingLine.FindStringSubmatch(line); m != nil {
		current, okCur := parseSize(m[2], m[3])
		total, okTotal := parseSize(m[4], m[5])
		if !okCur || !okTotal {
			return false
		}
		s.pushing(m[1], current, total)
		return true
	}
	if m := terminalLine.FindStringSubmatch(line); m != nil {
		s.complete(m[1])
		return true
	}
	if m := discoverLine.FindStringSubmatch(line); m != nil {
		if _, ok := s.layers[m[1]]; !ok {
			s.layers[m[1]] = &Layer{ID: m[1], Status: StatusPreparing}
		}
		return true
	}
	return false
}

func (s *Session) pushing(id string, current, total int64) {
	layer, ok := s.layers[id]
	if !ok {
		layer = &Layer{ID: id}
		s.layers[id] = layer
	}
	if layer.Completed {
		return
	}
	if total > 0 {
		layer.TotalBytes = total
	}
	if current > layer.CurrentBytes {
		layer.CurrentBytes = current
	}
	if layer.TotalBytes > 0 && layer.CurrentBytes > layer.TotalBytes {
		layer.CurrentBytes = layer.TotalBytes
	}
	layer.Status = StatusPushing
}

func (s *Session) complete(id string) {
	layer, ok := s.layers[id]
	if !ok {
		layer = &Layer{ID: id}
		s.layers[id] = layer
	}
	if layer.Completed {
		return
	}
	layer.Completed = true
	layer.Status = StatusComplete
	if layer.TotalBytes > 0 {
		layer.CurrentBytes = layer.TotalBytes
	}
	s.completed++
}

// Layer returns a copy of the layer with id.
func (s *Session) Layer(id string) (Layer, bool) {
	layer, ok := s.layers[id]
	if !ok {
		return Layer{}, false
	}
	return *layer, true
}

func (s *Session) TotalLayers() int     { return len(s.layers) }
func (s *Session) CompletedLayers() int { return s.completed }

// Progress computes the aggregate progress. The percent is byte weighted over
// layers of known size, falls back to the share of completed layers, and is
// absent when no layer has been seen.
func (s *Session) Progress() (Progress, bool) {
	if len(s.layers) == 0 {
		return Progress{}, false
	}
	var current, total int64
	for _, layer := range s.layers {
		if layer.TotalBytes > 0 {
			current += layer.CurrentBytes
			total += layer.TotalBytes
		}
	}
	var ratio float64
	if total > 0 {
		ratio = float64(current) / float64(total)
	} else {
		ratio = float64(s.completed) / float64(len(s.layers))
	}
	return Progress{
		Percent:         clampPercent(int(math.Round(100 * ratio))),
		CompletedLayers: s.completed,
		TotalLayers:     len(s.layers),
	}, true
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

var unitBytes = map[string]float64{
	"B":  1,
	"KB": 1024,
	"MB": 1024 * 1024,
	"GB": 1024 * 1024 * 1024,
}

// parseSize converts a docker size such as "3.5" "MB" into bytes.
func parseSize(value, unit string) (int64, bool) {
	mult, ok := unitBytes[strings.ToUpper(unit)]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return int64(math.Round(v * mult)), true
}

// Parser turns raw push output chunks into progress events. It reassembles
// lines split across chunks and keeps unrecognised stderr lines as the
// failure detail. A stderr line mentioning error, denied or unauthorized
// marks the push as failed whatever the exit status.
type Parser struct {
	session  *Session
	partial  [2][]byte
	skipping [2]bool
	detail   []string
	flagged  []string
}

// NewParser returns a parser with a fresh session.
func NewParser() *Parser {
	return &Parser{session: NewSession()}
}

// Session returns the session the parser folds lines into.
func (p *Parser) Session() *Session { return p.session }

// Feed consumes one chunk from stream. It returns the aggregate progress
// whenever at least one layer is known, even if unchanged.
func (p *Parser) Feed(stream runner.Stream, chunk []byte) (Progress, bool) {
	idx := streamIndex(stream)
	if p.skipping[idx] {
		i := bytes.IndexAny(chunk, "\r\n")
		if i < 0 {
			return p.session.Progress()
		}
		chunk = chunk[i+1:]
		p.skipping[idx] = false
	}
	buf := append(p.partial[idx], chunk...)
	for {
		i := bytes.IndexAny(buf, "\r\n")
		if i < 0 {
			break
		}
		p.line(stream, string(buf[:i]))
		buf = buf[i+1:]
	}
	if len(buf) > maxLineBytes {
		// Drop the over-long line, including the rest of it in later chunks.
		buf = nil
		p.skipping[idx] = true
	}
	p.partial[idx] = append([]byte(nil), buf...)
	return p.session.Progress()
}

// Flush processes lines left without a terminator when the process exited.
// It reports progress only if there was something left to process.
func (p *Parser) Flush() (Progress, bool) {
	flushed := false
	for _, stream := range []runner.Stream{runner.Stdout, runner.Stderr} {
		idx := streamIndex(stream)
		if len(p.partial[idx]) > 0 {
			p.line(stream, string(p.partial[idx]))
			p.partial[idx] = nil
			flushed = true
		}
	}
	if !flushed {
		return Progress{}, false
	}
	return p.session.Progress()
}

func (p *Parser) line(stream runner.Stream, line string) {
	line = strings.TrimSpace(line)
	if line == "" || p.session.Apply(line) {
		return
	}
	if stream != runner.Stderr {
		return
	}
	p.detail = keepLast(append(p.detail, line), maxDetailLines)
	lower := strings.ToLower(line)
	for _, word := range failureWords {
		if strings.Contains(lower, word) {
			p.flagged = keepLast(append(p.flagged, line), maxDetailLines)
			break
		}
	}
}

func keepLast(lines []string, n int) []string {
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

// Failed reports whether stderr carried an error, denied or unauthorized line.
func (p *Parser) Failed() bool { return len(p.flagged) > 0 }

// FailureDetail returns the flagged stderr lines, or every retained stderr
// line when none was flagged.
func (p *Parser) FailureDetail() string {
	if len(p.flagged) > 0 {
		return strings.Join(p.flagged, "\n")
	}
	return strings.Join(p.detail, "\n")
}

// Complete returns the terminal event reported after a successful exit.
func (p *Parser) Complete() Progress {
	n := p.session.TotalLayers()
	return Progress{Percent: 100, CompletedLayers: n, TotalLayers: n}
}

func streamIndex(stream runner.Stream) int {
	if stream == runner.Stderr {
		return 1
	}
	return 0
}
