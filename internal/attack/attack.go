// Package attack maps MITRE ATT&CK queries onto the tool calls exposed by
// a mitre-mcp server. It only shapes arguments; it never talks to the
// network.
package attack

import (
	"errors"
	"fmt"
	"strings"
)

// Domain is an ATT&CK matrix.
type Domain string

const (
	Enterprise Domain = "enterprise-attack"
	Mobile     Domain = "mobile-attack"
	ICS        Domain = "ics-attack"

	DefaultDomain = Enterprise
)

// Domains lists the accepted domains in display order.
var Domains = []Domain{Enterprise, Mobile, ICS}

// ParseDomain validates s. Matching is case-insensitive and an empty
// string selects DefaultDomain.
func ParseDomain(s string) (Domain, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultDomain, nil
	}
	for _, d := range Domains {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q (valid: %s)", s, strings.Join(DomainNames(), ", "))
}

// DomainNames returns Domains as strings.
func DomainNames() []string {
	out := make([]string, len(Domains))
	for i, d := range Domains {
		out[i] = string(d)
	}
	return out
}

// Tool names served by mitre-mcp.
const (
	ToolGetTechniques                      = "get_techniques"
	ToolGetTechniquesByTactic              = "get_techniques_by_tactic"
	ToolGetTechniqueByID                   = "get_technique_by_id"
	ToolGetTactics                         = "get_tactics"
	ToolGetGroups                          = "get_groups"
	ToolGetTechniquesUsedByGroup           = "get_techniques_used_by_group"
	ToolGetSoftware                        = "get_software"
	ToolGetMitigations                     = "get_mitigations"
	ToolGetTechniquesMitigatedByMitigation = "get_techniques_mitigated_by_mitigation"
)

// Software types accepted by get_software.
const (
	SoftwareMalware = "malware"
	SoftwareTool    = "tool"
)

const (
	DefaultLimit  = 20
	DefaultOffset = 0
)

var (
	ErrMissingID   = errors.New("technique id is required")
	ErrMissingName = errors.New("name is required")
)

// ToolCall is a tool name and its arguments, ready for tools/call.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
}

// Common holds the flags every query accepts.
type Common struct {
	Domain    Domain
	NoRevoked bool
}

func (c Common) domain() Domain {
	if c.Domain == "" {
		return DefaultDomain
	}
	return c.Domain
}

// TechniquesQuery lists techniques, optionally restricted to one tactic.
// Pagination and the include flags only apply without a tactic.
type TechniquesQuery struct {
	Common
	Tactic        string
	Subtechniques bool
	Descriptions  bool
	Limit         int
	Offset        int
}

func Techniques(q TechniquesQuery) (ToolCall, error) {
	if tactic := strings.TrimSpace(q.Tactic); tactic != "" {
		return ToolCall{
			Name: ToolGetTechniquesByTactic,
			Arguments: map[string]interface{}{
				"tactic_shortname":          tactic,
				"domain":                    string(q.domain()),
				"remove_revoked_deprecated": q.NoRevoked,
			},
		}, nil
	}
	if q.Limit <= 0 {
		return ToolCall{}, fmt.Errorf("limit must be positive, got %d", q.Limit)
	}
	if q.Offset < 0 {
		return ToolCall{}, fmt.Errorf("offset must not be negative, got %d", q.Offset)
	}
	return ToolCall{
		Name: ToolGetTechniques,
		Arguments: map[string]interface{}{
			"domain":                    string(q.domain()),
			"include_subtechniques":     q.Subtechniques,
			"include_descriptions":      q.Descriptions,
			"remove_revoked_deprecated": q.NoRevoked,
			"limit":                     q.Limit,
			"offset":                    q.Offset,
		},
	}, nil
}

// Technique looks up one technique by its ATT&CK id (e.g. T1059.001).
// The id is passed through as given; the server decides how to match it.
func Technique(c Common, id string) (ToolCall, error) {
	if strings.TrimSpace(id) == "" {
		return ToolCall{}, ErrMissingID
	}
	return ToolCall{
		Name: ToolGetTechniqueByID,
		Arguments: map[string]interface{}{
			"technique_id": id,
			"domain":       string(c.domain()),
		},
	}, nil
}

func Tactics(c Common) ToolCall {
	return ToolCall{
		Name:      ToolGetTactics,
		Arguments: map[string]interface{}{"domain": string(c.domain())},
	}
}

func Groups(c Common) ToolCall {
	return ToolCall{
		Name: ToolGetGroups,
		Arguments: map[string]interface{}{
			"domain":                    string(c.domain()),
			"remove_revoked_deprecated": c.NoRevoked,
		},
	}
}

// Group lists the techniques used by the named threat group.
func Group(c Common, name string) (ToolCall, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ToolCall{}, fmt.Errorf("group: %w", ErrMissingName)
	}
	return ToolCall{
		Name: ToolGetTechniquesUsedByGroup,
		Arguments: map[string]interface{}{
			"group_name": name,
			"domain":     string(c.domain()),
		},
	}, nil
}

// Software lists malware and/or tools. Selecting neither selects both.
func Software(c Common, malware, tools bool) ToolCall {
	var types []string
	if malware {
		types = append(types, SoftwareMalware)
	}
	if tools {
		types = append(types, SoftwareTool)
	}
	if len(types) == 0 {
		types = []string{SoftwareMalware, SoftwareTool}
	}
	return ToolCall{
		Name: ToolGetSoftware,
		Arguments: map[string]interface{}{
			"domain":                    string(c.domain()),
			"software_types":            types,
			"remove_revoked_deprecated": c.NoRevoked,
		},
	}
}

// Mitigations lists mitigations, or with a name, the techniques that
// mitigation addresses.
func Mitigations(c Common, name string) ToolCall {
	if name = strings.TrimSpace(name); name != "" {
		return ToolCall{
			Name: ToolGetTechniquesMitigatedByMitigation,
			Arguments: map[string]interface{}{
				"mitigation_name": name,
				"domain":          string(c.domain()),
			},
		}
	}
	return ToolCall{
		Name: ToolGetMitigations,
		Arguments: map[string]interface{}{
			"domain":                    string(c.domain()),
			"remove_revoked_deprecated": c.NoRevoked,
		},
	}
}
