/*
rulejson.go - JSON <-> Rule conversion

PURPOSE:
  Rules are stored and transported as JSON so that parameters and rubrics
  can be configured without code changes. Amounts are strings to keep
  decimal precision intact.

JSON SCHEMA:
  {"kind": "FIXED",      "value": "500"}
  {"kind": "PERCENTAGE", "value": "2.5"}
  {"kind": "TIER", "tiers": [
      {"min": "0",      "max": "100000", "rate": "5"},
      {"min": "100001", "max": "500000", "rate": "4"},
      {"min": "500001",                  "rate": "3"}
  ]}

Parsing validates the rule; a parsed rule is always safe to use.
*/
package commission

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

type TierJSON struct {
	Min  string  `json:"min" validate:"required,numeric"`
	Max  *string `json:"max,omitempty" validate:"omitempty,numeric"`
	Rate string  `json:"rate" validate:"required,numeric"`
}

type RuleJSON struct {
	Kind  string     `json:"kind" validate:"required,oneof=FIXED PERCENTAGE TIER"`
	Value string     `json:"value,omitempty" validate:"omitempty,numeric"`
	Tiers []TierJSON `json:"tiers,omitempty" validate:"dive"`
}

// ParseRule converts and validates a JSON rule.
func ParseRule(j RuleJSON) (Rule, error) {
	if err := validate.Struct(j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	if Kind(j.Kind) != KindTier && j.Value == "" {
		return nil, fmt.Errorf("%w: %s rule needs a value", ErrInvalidParameter, j.Kind)
	}

	var rule Rule
	switch Kind(j.Kind) {
	case KindFixed:
		rule = Fixed{Amount: decimal.RequireFromString(j.Value)}
	case KindPercentage:
		rule = Percentage{Rate: decimal.RequireFromString(j.Value)}
	case KindTier:
		tiers := make([]Tier, len(j.Tiers))
		for i, t := range j.Tiers {
			tiers[i] = Tier{
				Min:  decimal.RequireFromString(t.Min),
				Rate: decimal.RequireFromString(t.Rate),
			}
			if t.Max != nil {
				max := decimal.RequireFromString(*t.Max)
				tiers[i].Max = &max
			}
		}
		rule = Tiered{Tiers: tiers}
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// EncodeRule is the inverse of ParseRule.
func EncodeRule(r Rule) RuleJSON {
	switch v := r.(type) {
	case Fixed:
		return RuleJSON{Kind: string(KindFixed), Value: v.Amount.String()}
	case Percentage:
		return RuleJSON{Kind: string(KindPercentage), Value: v.Rate.String()}
	case Tiered:
		tiers := make([]TierJSON, len(v.Tiers))
		for i, t := range v.Tiers {
			tiers[i] = TierJSON{Min: t.Min.String(), Rate: t.Rate.String()}
			if t.Max != nil {
				max := t.Max.String()
				tiers[i].Max = &max
			}
		}
		return RuleJSON{Kind: string(KindTier), Tiers: tiers}
	}
	return RuleJSON{}
}

// MarshalRule encodes r as a JSON string for storage.
func MarshalRule(r Rule) (string, error) {
	b, err := json.Marshal(EncodeRule(r))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalRule decodes and validates a stored rule.
func UnmarshalRule(s string) (Rule, error) {
	var j RuleJSON
	if err := json.Unmarshal([]byte(s), &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return ParseRule(j)
}
