package tasklist

import (
	"bytes"
	"encoding/json"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/convergeops/converge/pkg/cerr"
)

// Format selects how Parse interprets the document bytes.
type Format string

const (
	FormatYAML    Format = "yaml"
	FormatJSON    Format = "json"
	FormatUnknown Format = "unknown"
)

// rawTaskList/rawTask/rawStep are the structural intermediate form of
// §4.3 phase 1: each step carries one optional field per known module
// key. Ping's own pointer is only checked for strict-decode field
// recognition — whether `ping:` was actually written (even as a null
// scalar) is decided separately by detectPingPresence, since a null
// scalar decodes to the same nil *struct{} as an absent key.
type rawTaskList []rawTask

type rawTask struct {
	Name     string    `yaml:"name,omitempty" json:"name,omitempty"`
	WithSudo *bool     `yaml:"with_sudo,omitempty" json:"with_sudo,omitempty"`
	Steps    []rawStep `yaml:"steps" json:"steps"`
}

type rawStep struct {
	Name          string `yaml:"name,omitempty" json:"name,omitempty"`
	WithSudo      *bool  `yaml:"with_sudo,omitempty" json:"with_sudo,omitempty"`
	RunAs         string `yaml:"run_as,omitempty" json:"run_as,omitempty"`
	AllowedToFail bool   `yaml:"allowed_to_fail,omitempty" json:"allowed_to_fail,omitempty"`
	Register      string `yaml:"register,omitempty" json:"register,omitempty"`

	Ping       *struct{}          `yaml:"ping" json:"ping"`
	Command    *rawCommand        `yaml:"command" json:"command"`
	Apt        *rawPackage        `yaml:"apt" json:"apt"`
	Dnf        *rawPackage        `yaml:"dnf" json:"dnf"`
	Yum        *rawPackage        `yaml:"yum" json:"yum"`
	Service    *rawService        `yaml:"service" json:"service"`
	LineInFile *rawLineInFile     `yaml:"lineinfile" json:"lineinfile"`
	Debug      *rawDebug          `yaml:"debug" json:"debug"`
}

type rawCommand struct {
	Content string `yaml:"content" json:"content"`
}

type rawPackage struct {
	State   string `yaml:"state" json:"state"`
	Package string `yaml:"package" json:"package"`
	Upgrade bool   `yaml:"upgrade,omitempty" json:"upgrade,omitempty"`
}

type rawService struct {
	Name    string `yaml:"name" json:"name"`
	State   string `yaml:"state,omitempty" json:"state,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

type rawLineInFile struct {
	Filepath string `yaml:"filepath" json:"filepath"`
	Line     string `yaml:"line" json:"line"`
	State    string `yaml:"state" json:"state"`
	Position string `yaml:"position" json:"position"`
}

type rawDebug struct {
	Msg string `yaml:"msg" json:"msg"`
}

// Parse decodes doc per format and resolves it into a TaskList, per
// spec.md §4.3. When format is FormatUnknown, YAML is attempted first
// and JSON only on YAML failure.
func Parse(doc []byte, format Format) (*TaskList, error) {
	var raw rawTaskList
	var err error
	resolvedFormat := format

	switch format {
	case FormatYAML:
		raw, err = decodeYAML(doc)
	case FormatJSON:
		raw, err = decodeJSON(doc)
	default:
		raw, err = decodeYAML(doc)
		if err != nil {
			var jsonErr error
			raw, jsonErr = decodeJSON(doc)
			if jsonErr != nil {
				return nil, cerr.New(cerr.KindFailureToParseContent,
					"neither yaml nor json decoding succeeded (yaml: %s; json: %s)", err, jsonErr)
			}
			err = nil
			resolvedFormat = FormatJSON
		} else {
			resolvedFormat = FormatYAML
		}
	}
	if err != nil {
		return nil, cerr.Wrap(cerr.KindFailureToParseContent, err, "decode task list")
	}

	pingPresence, err := detectPingPresence(doc, resolvedFormat)
	if err != nil {
		return nil, cerr.Wrap(cerr.KindFailureToParseContent, err, "scan for explicit ping keys")
	}

	tl := &TaskList{}
	for ti, rt := range raw {
		task := Task{Name: rt.Name, WithSudo: rt.WithSudo}
		for si, rs := range rt.Steps {
			hasPing := ti < len(pingPresence) && si < len(pingPresence[ti]) && pingPresence[ti][si]
			step, err := resolveStep(rs, hasPing)
			if err != nil {
				return nil, err
			}
			task.Steps = append(task.Steps, step)
		}
		tl.Tasks = append(tl.Tasks, task)
	}
	return tl, nil
}

// detectPingPresence reports, per task/step, whether the document's
// "ping" key was written at all — including `ping:` with no value.
// Both gopkg.in/yaml.v3 and encoding/json nil out a *struct{} field for
// an explicit null scalar, making it indistinguishable from an absent
// key once decoded into rawStep; decoding the same document into a
// generic map preserves the key regardless of its value, since Go map
// membership (unlike a struct pointer field) can represent "present
// with a nil value".
func detectPingPresence(doc []byte, format Format) ([][]bool, error) {
	var generic []map[string]any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(doc, &generic); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(doc, &generic); err != nil {
			return nil, err
		}
	}

	presence := make([][]bool, len(generic))
	for i, task := range generic {
		steps, _ := task["steps"].([]any)
		presence[i] = make([]bool, len(steps))
		for j, s := range steps {
			stepMap, _ := s.(map[string]any)
			_, present := stepMap["ping"]
			presence[i][j] = present
		}
	}
	return presence, nil
}

func decodeYAML(doc []byte) (rawTaskList, error) {
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	var raw rawTaskList
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func decodeJSON(doc []byte) (rawTaskList, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	var raw rawTaskList
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// resolveStep implements §4.3 phase 2: exactly one module key must be
// populated. hasPing comes from detectPingPresence rather than
// rs.Ping != nil, since ping carries no payload and an explicit
// `ping:` null scalar decodes to the same nil pointer as an absent key.
func resolveStep(rs rawStep, hasPing bool) (Step, error) {
	count := 0
	var mod Module

	if hasPing {
		count++
		mod = Module{Kind: KindPing}
	}
	if rs.Command != nil {
		count++
		mod = Module{Kind: KindCommand, Command: &CommandModule{Content: rs.Command.Content}}
	}
	if rs.Apt != nil {
		count++
		pm, err := resolvePackage(rs.Apt)
		if err != nil {
			return Step{}, err
		}
		mod = Module{Kind: KindApt, Apt: pm}
	}
	if rs.Dnf != nil {
		count++
		pm, err := resolvePackage(rs.Dnf)
		if err != nil {
			return Step{}, err
		}
		mod = Module{Kind: KindYumDnf, YumDnf: pm}
	}
	if rs.Yum != nil {
		count++
		pm, err := resolvePackage(rs.Yum)
		if err != nil {
			return Step{}, err
		}
		mod = Module{Kind: KindYumDnf, YumDnf: pm}
	}
	if rs.Service != nil {
		count++
		sm, err := resolveService(rs.Service)
		if err != nil {
			return Step{}, err
		}
		mod = Module{Kind: KindService, Service: sm}
	}
	if rs.LineInFile != nil {
		count++
		lm, err := resolveLineInFile(rs.LineInFile)
		if err != nil {
			return Step{}, err
		}
		mod = Module{Kind: KindLineInFile, LineInFile: lm}
	}
	if rs.Debug != nil {
		count++
		mod = Module{Kind: KindDebug, Debug: &DebugModule{Msg: rs.Debug.Msg}}
	}

	if count == 0 {
		return Step{}, cerr.New(cerr.KindNoModule, "step %q has no module directive", rs.Name)
	}
	if count > 1 {
		return Step{}, cerr.New(cerr.KindTooManyModules, "step %q has %d module directives, want 1", rs.Name, count)
	}

	return Step{
		Name:          rs.Name,
		WithSudo:      rs.WithSudo,
		RunAs:         rs.RunAs,
		AllowedToFail: rs.AllowedToFail,
		Register:      rs.Register,
		Module:        mod,
	}, nil
}

func resolvePackage(rp *rawPackage) (*PackageModule, error) {
	state, err := parsePackageState(rp.State)
	if err != nil {
		return nil, err
	}
	return &PackageModule{State: state, Package: rp.Package, Upgrade: rp.Upgrade}, nil
}

func parsePackageState(s string) (PackageState, error) {
	switch s {
	case string(StatePresent):
		return StatePresent, nil
	case string(StateAbsent):
		return StateAbsent, nil
	default:
		return "", cerr.New(cerr.KindFailureToParseContent, "invalid package state %q", s)
	}
}

func resolveService(rs *rawService) (*ServiceModule, error) {
	sm := &ServiceModule{Name: rs.Name, Enabled: rs.Enabled}
	if rs.State != "" {
		var st ServiceRunState
		switch rs.State {
		case string(ServiceStarted):
			st = ServiceStarted
		case string(ServiceStopped):
			st = ServiceStopped
		default:
			return nil, cerr.New(cerr.KindFailureToParseContent, "invalid service state %q", rs.State)
		}
		sm.State = &st
	}
	return sm, nil
}

func resolveLineInFile(rl *rawLineInFile) (*LineInFileModule, error) {
	state, err := parsePackageState(rl.State)
	if err != nil {
		return nil, err
	}
	pos, err := parsePosition(rl.Position)
	if err != nil {
		return nil, err
	}
	return &LineInFileModule{
		Filepath: rl.Filepath,
		Line:     rl.Line,
		State:    state,
		Position: pos,
	}, nil
}

func parsePosition(s string) (LineFilePosition, error) {
	switch s {
	case "", PositionAnywhere:
		return LineFilePosition{Named: PositionAnywhere}, nil
	case PositionTop:
		return LineFilePosition{Named: PositionTop}, nil
	case PositionBottom:
		return LineFilePosition{Named: PositionBottom}, nil
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			return LineFilePosition{}, cerr.New(cerr.KindFailureToParseContent, "invalid lineinfile position %q", s)
		}
		return LineFilePosition{Line: &n}, nil
	}
}
