// Package debug provides the category- and cycle-filtered pipeline trace log.
// Output goes through a logrus logger so console and file sinks, formats and
// suppression are handled uniformly.
package debug

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Category is a bitmask of trace sources.
type Category uint32

const (
	CatFetch Category = 1 << iota
	CatDecode
	CatIssue
	CatExecute
	CatWriteback
	CatCommit
	CatROB
	CatRename
	CatRS
	CatMemory
	CatBranch
	CatStall
	CatDiffTest
	CatSyscall
	CatCache
	CatInOrder
)

var catNames = map[string]Category{
	"fetch":     CatFetch,
	"decode":    CatDecode,
	"issue":     CatIssue,
	"execute":   CatExecute,
	"writeback": CatWriteback,
	"commit":    CatCommit,
	"rob":       CatROB,
	"rename":    CatRename,
	"rs":        CatRS,
	"memory":    CatMemory,
	"branch":    CatBranch,
	"stall":     CatStall,
	"difftest":  CatDiffTest,
	"syscall":   CatSyscall,
	"cache":     CatCache,
	"inorder":   CatInOrder,
}

// Presets mirror the debug presets of the CLI.
var presets = map[string]Category{
	"basic":       CatFetch | CatDecode | CatCommit,
	"ooo":         CatFetch | CatDecode | CatIssue | CatExecute | CatWriteback | CatCommit | CatROB | CatRename | CatRS,
	"inorder":     CatInOrder,
	"pipeline":    CatFetch | CatDecode | CatIssue | CatExecute | CatWriteback | CatCommit,
	"performance": CatExecute | CatCommit | CatROB | CatRS | CatBranch | CatStall,
	"detailed":    ^Category(0),
	"memory":      CatFetch | CatMemory | CatExecute | CatCommit | CatCache,
	"branch":      CatFetch | CatDecode | CatExecute | CatCommit | CatBranch,
	"minimal":     CatFetch | CatCommit,
}

// Mode selects the trace line format.
type Mode int

const (
	ModeVerbose Mode = iota // cycle + category + message
	ModeSimple              // category + message
	ModeWithPC              // cycle + pc + category + message
)

// Tracer filters and emits pipeline trace lines.
type Tracer struct {
	enabled bool
	cats    Category
	mode    Mode

	startCycle uint64
	endCycle   uint64

	cycle uint64
	pc    uint64

	log  *logrus.Logger
	file *os.File
}

var std = newTracer()

func newTracer() *Tracer {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.TraceLevel)
	t := &Tracer{endCycle: ^uint64(0), log: l}
	l.SetFormatter(&lineFormatter{t: t})
	return t
}

// Std returns the process-wide tracer.
func Std() *Tracer { return std }

type lineFormatter struct {
	t *Tracer
}

func (f *lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	cat, _ := e.Data["cat"].(string)
	var b strings.Builder
	switch f.t.mode {
	case ModeSimple:
		fmt.Fprintf(&b, "[%s] %s\n", cat, e.Message)
	case ModeWithPC:
		fmt.Fprintf(&b, "cycle=%d pc=0x%x [%s] %s\n", f.t.cycle, f.t.pc, cat, e.Message)
	default:
		fmt.Fprintf(&b, "cycle=%d [%s] %s\n", f.t.cycle, cat, e.Message)
	}
	return []byte(b.String()), nil
}

// Config carries the CLI debug options.
type Config struct {
	Enabled    bool
	Preset     string
	Categories string // comma-separated names, used when Preset is empty
	CycleRange string // "start-end", end may be empty or "end"
	Mode       Mode
	FilePath   string
	NoConsole  bool
}

// Configure applies a CLI debug configuration to the shared tracer.
func Configure(cfg Config) error {
	std.enabled = cfg.Enabled
	if !cfg.Enabled {
		std.log.SetOutput(io.Discard)
		return nil
	}

	std.mode = cfg.Mode
	std.cats = ^Category(0)
	if cfg.Preset != "" {
		p, ok := presets[cfg.Preset]
		if !ok {
			return fmt.Errorf("unknown debug preset %q (have: %s)", cfg.Preset, presetNames())
		}
		std.cats = p
	} else if cfg.Categories != "" {
		cats, err := parseCategories(cfg.Categories)
		if err != nil {
			return err
		}
		std.cats = cats
	}

	if cfg.CycleRange != "" {
		start, end, err := parseCycleRange(cfg.CycleRange)
		if err != nil {
			return err
		}
		std.startCycle, std.endCycle = start, end
	}

	var sinks []io.Writer
	if !cfg.NoConsole {
		sinks = append(sinks, os.Stdout)
	}
	if cfg.FilePath != "" {
		f, err := os.Create(cfg.FilePath)
		if err != nil {
			return fmt.Errorf("open debug file: %w", err)
		}
		std.file = f
		sinks = append(sinks, f)
	}
	if len(sinks) == 0 {
		std.log.SetOutput(io.Discard)
	} else {
		std.log.SetOutput(io.MultiWriter(sinks...))
	}
	return nil
}

// Close flushes and closes the file sink, if any.
func Close() {
	if std.file != nil {
		std.file.Close()
		std.file = nil
	}
}

func parseCategories(s string) (Category, error) {
	var cats Category
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		c, ok := catNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown debug category %q", name)
		}
		cats |= c
	}
	return cats, nil
}

func parseCycleRange(s string) (uint64, uint64, error) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return 0, 0, fmt.Errorf("cycle range must be start-end, got %q", s)
	}
	var start, end uint64
	if _, err := fmt.Sscanf(s[:dash], "%d", &start); err != nil {
		return 0, 0, fmt.Errorf("bad cycle range start %q", s[:dash])
	}
	rest := s[dash+1:]
	end = ^uint64(0)
	if rest != "" && !strings.EqualFold(rest, "end") {
		if _, err := fmt.Sscanf(rest, "%d", &end); err != nil {
			return 0, 0, fmt.Errorf("bad cycle range end %q", rest)
		}
	}
	return start, end, nil
}

func presetNames() string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// SetContext records the current cycle and fetch PC for line prefixes.
func SetContext(cycle, pc uint64) {
	std.cycle = cycle
	std.pc = pc
}

// Enabled reports whether a category currently produces output. Stages guard
// their format calls with it to keep the hot path free of formatting.
func Enabled(cat Category) bool {
	if !std.enabled || std.cats&cat == 0 {
		return false
	}
	return std.cycle >= std.startCycle && std.cycle <= std.endCycle
}

// Tracef emits one trace line in the given category.
func Tracef(cat Category, format string, args ...any) {
	if !Enabled(cat) {
		return
	}
	std.log.WithField("cat", catName(cat)).Tracef(format, args...)
}

func catName(cat Category) string {
	for n, c := range catNames {
		if c == cat {
			return strings.ToUpper(n)
		}
	}
	return "TRACE"
}
