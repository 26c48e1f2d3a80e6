package rules

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/wildfire-lending/guardrail/internal/engine/operator"
)

// rulesDocument is the shape of a static rules file. File-authored rules use
// a friendlier layout than the row form (inline target lists, operators by
// name) and normalize into the same compile path as store-loaded rows.
type rulesDocument struct {
	RuleSets []fileRuleSet `koanf:"rulesets"`
}

type fileRuleSet struct {
	Type  string     `koanf:"type"`
	Area  string     `koanf:"area"`
	Rules []fileRule `koanf:"rules"`
}

type fileRule struct {
	Sequence   int          `koanf:"sequence"`
	Target     []string     `koanf:"target"`
	Operator   string       `koanf:"operator"`
	OperatorID int          `koanf:"operator_id"`
	Criteria   any          `koanf:"criteria"`
	SubRule    *fileSubRule `koanf:"sub_rule"`
	OnPass     string       `koanf:"on_pass"`
	OnFail     string       `koanf:"on_fail"`
	Pass       string       `koanf:"pass"`
	Fail       string       `koanf:"fail"`
	Warn       string       `koanf:"warn"`
}

type fileSubRule struct {
	Depends  []string `koanf:"depends"`
	Operator string   `koanf:"operator"`
	Criteria any      `koanf:"criteria"`
	OnFail   string   `koanf:"on_fail"`
	Fail     string   `koanf:"fail"`
}

// LoadRulesFile parses a YAML or JSON rules file into compiled rulesets keyed
// by CacheKey. The result feeds Manager.SetStatic.
func LoadRulesFile(path string) (map[string][]Rule, error) {
	var parser koanf.Parser = yaml.Parser()
	if strings.EqualFold(filepath.Ext(path), ".json") {
		parser = kjson.Parser()
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("rules: load %s: %w", path, err)
	}

	var doc rulesDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("rules: parse %s: %w", path, err)
	}

	bundle := make(map[string][]Rule, len(doc.RuleSets))
	for _, set := range doc.RuleSets {
		if strings.TrimSpace(set.Type) == "" || strings.TrimSpace(set.Area) == "" {
			return nil, fmt.Errorf("rules: %s: ruleset missing type or area", path)
		}
		key := CacheKey(set.Type, set.Area)
		if _, ok := bundle[key]; ok {
			return nil, fmt.Errorf("rules: %s: duplicate ruleset %s/%s", path, set.Type, set.Area)
		}

		rows := make([]ruleRow, 0, len(set.Rules))
		for i, fr := range set.Rules {
			row, err := fr.toRow(set.Type, set.Area)
			if err != nil {
				return nil, fmt.Errorf("rules: %s: ruleset %s/%s rule %d: %w", path, set.Type, set.Area, i, err)
			}
			rows = append(rows, row)
		}

		compiled, err := CompileRows(rows)
		if err != nil {
			return nil, fmt.Errorf("rules: %s: %w", path, err)
		}
		bundle[key] = compiled
	}
	return bundle, nil
}

// toRow normalizes a file-authored rule into the row form so file rules and
// store rules share one compile path.
func (fr fileRule) toRow(ruleType, area string) (ruleRow, error) {
	opID := fr.OperatorID
	if opID == 0 {
		op, ok := operator.ByName(fr.Operator)
		if !ok {
			return ruleRow{}, fmt.Errorf("unknown operator %q", fr.Operator)
		}
		opID = op.ID
	}

	if len(fr.Target) == 0 {
		return ruleRow{}, fmt.Errorf("target required")
	}
	target, err := json.Marshal(fr.Target)
	if err != nil {
		return ruleRow{}, err
	}

	row := ruleRow{
		Type:       ruleType,
		Area:       area,
		Sequence:   fr.Sequence,
		Target:     string(target),
		OperatorID: opID,
		OnPass:     fr.OnPass,
		OnFail:     fr.OnFail,
		Pass:       fr.Pass,
		Fail:       fr.Fail,
		Warn:       fr.Warn,
	}

	criteria, err := criteriaText(fr.Criteria)
	if err != nil {
		return ruleRow{}, err
	}
	row.Criteria = criteria

	if fr.SubRule != nil {
		doc := subRuleDoc{
			OperatorName: fr.SubRule.Operator,
			OnFail:       fr.SubRule.OnFail,
			Fail:         fr.SubRule.Fail,
		}
		depends, err := json.Marshal(fr.SubRule.Depends)
		if err != nil {
			return ruleRow{}, err
		}
		doc.Depends = depends
		if fr.SubRule.Criteria != nil {
			raw, err := json.Marshal(fr.SubRule.Criteria)
			if err != nil {
				return ruleRow{}, err
			}
			doc.Criteria = raw
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return ruleRow{}, err
		}
		sub := string(encoded)
		row.SubRule = &sub
	}
	return row, nil
}

// criteriaText renders a file criteria as the raw column text the parser
// expects. Strings pass through bare; everything else serializes to JSON.
func criteriaText(criteria any) (*string, error) {
	if criteria == nil {
		return nil, nil
	}
	if s, ok := criteria.(string); ok {
		return &s, nil
	}
	raw, err := json.Marshal(criteria)
	if err != nil {
		return nil, err
	}
	text := string(raw)
	return &text, nil
}
