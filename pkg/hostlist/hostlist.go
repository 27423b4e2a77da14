// Package hostlist loads the host-list YAML document of spec.md §6:
// global vars, an optional host array, and named groups, merged per
// host with host vars winning over group vars winning over global
// vars.
package hostlist

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/convergeops/converge/pkg/cerr"
	"github.com/convergeops/converge/pkg/tasklist"
)

type rawHostList struct {
	Vars   map[string]any `yaml:"vars"`
	Hosts  []rawHostEntry `yaml:"hosts"`
	Groups []rawGroup     `yaml:"groups"`
}

// rawHostEntry accepts either a bare "addr [k1=v1,k2=v2]" scalar or a
// full mapping form; UnmarshalYAML dispatches on the node kind.
type rawHostEntry struct {
	Address string
	Vars    map[string]any
	Groups  []string
}

func (h *rawHostEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		addr, vars, err := parseInlineHost(node.Value)
		if err != nil {
			return err
		}
		h.Address = addr
		h.Vars = vars
		return nil
	}

	var m struct {
		Address string         `yaml:"address"`
		Vars    map[string]any `yaml:"vars"`
		Groups  []string       `yaml:"groups"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	h.Address, h.Vars, h.Groups = m.Address, m.Vars, m.Groups
	return nil
}

type rawGroup struct {
	Name  string         `yaml:"name"`
	Vars  map[string]any `yaml:"vars"`
	Hosts []string       `yaml:"hosts"`
}

// parseInlineHost parses the "addr [k1=v1, k2=v2]" scalar form.
func parseInlineHost(s string) (string, map[string]any, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '[')
	if open < 0 {
		return s, nil, nil
	}
	if !strings.HasSuffix(s, "]") {
		return "", nil, fmt.Errorf("hostlist: malformed inline host %q", s)
	}
	addr := strings.TrimSpace(s[:open])
	body := s[open+1 : len(s)-1]

	vars := map[string]any{}
	for _, pair := range strings.Split(body, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return "", nil, fmt.Errorf("hostlist: malformed inline var %q in %q", pair, s)
		}
		vars[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return addr, vars, nil
}

// Load parses a host-list YAML document into a flat, per-host merged
// view: host vars override group vars override global vars (spec.md
// §6). A host appearing in multiple groups accumulates all their vars,
// later group wins on conflict.
func Load(doc []byte) ([]tasklist.Host, error) {
	var raw rawHostList
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, cerr.Wrap(cerr.KindFailureToParseContent, err, "decode host list")
	}

	groupsByName := map[string]rawGroup{}
	groupVarsByHost := map[string]map[string]any{}
	for _, g := range raw.Groups {
		groupsByName[g.Name] = g
		for _, addr := range g.Hosts {
			mergeInto(groupVarsByHost, addr, g.Vars)
		}
	}

	var hosts []tasklist.Host
	seen := map[string]bool{}
	for _, he := range raw.Hosts {
		seen[he.Address] = true
		for _, gname := range he.Groups {
			mergeInto(groupVarsByHost, he.Address, groupsByName[gname].Vars)
		}
		hosts = append(hosts, tasklist.Host{Address: he.Address, Vars: mergeVars(raw.Vars, groupVarsByHost[he.Address], he.Vars)})
	}

	// Group-only hosts (named in a group's `hosts:` list but not in the
	// top-level `hosts:` array) still resolve to a host entry.
	for _, g := range raw.Groups {
		for _, addr := range g.Hosts {
			if seen[addr] {
				continue
			}
			seen[addr] = true
			hosts = append(hosts, tasklist.Host{Address: addr, Vars: mergeVars(raw.Vars, groupVarsByHost[addr], nil)})
		}
	}

	return hosts, nil
}

func mergeInto(dst map[string]map[string]any, key string, vars map[string]any) {
	merged := dst[key]
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range vars {
		merged[k] = v
	}
	dst[key] = merged
}

func mergeVars(layers ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
