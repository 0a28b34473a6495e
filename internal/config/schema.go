package config

import (
	"fmt"
	"strings"

	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// Role is the part a column plays in summarization.
type Role string

const (
	RoleContinuous  Role = "continuous"
	RoleCategorical Role = "categorical"
)

// Variable declares one column of the IPD table.
type Variable struct {
	Name string `mapstructure:"name" json:"name"`
	Role Role   `mapstructure:"role" json:"role"`
	// Transform applies the order-quantile normalization; continuous only.
	Transform bool `mapstructure:"transform" json:"transform"`
}

// Schema is the explicit, typed column layout of the IPD table.
type Schema struct {
	Variables []Variable `mapstructure:"variables" json:"variables"`
}

// Validate checks names are unique and usable as persisted column names, roles known and
// transform only set on continuous columns.
func (s Schema) Validate() error {
	if len(s.Variables) == 0 {
		return errors.NewConfigurationError("schema declares no variables")
	}
	seen := make(map[string]bool, len(s.Variables))
	continuous := 0
	for _, v := range s.Variables {
		if v.Name == "" {
			return errors.NewConfigurationError("schema variable with empty name")
		}
		if strings.Contains(v.Name, constants.PairSeparator) {
			return errors.NewConfigurationError("variable %q must not contain %q, it separates correlation pairs",
				v.Name, constants.PairSeparator)
		}
		if strings.Contains(v.Name, constants.ListSeparator) {
			return errors.NewConfigurationError("variable %q must not contain %q, it separates manifest lists",
				v.Name, constants.ListSeparator)
		}
		if seen[v.Name] {
			return errors.NewConfigurationError("schema variable %q declared twice", v.Name)
		}
		seen[v.Name] = true

		switch v.Role {
		case RoleContinuous:
			continuous++
		case RoleCategorical:
			if v.Transform {
				return errors.NewConfigurationError("categorical variable %q cannot be transformed", v.Name)
			}
		default:
			return errors.NewConfigurationError("variable %q has unknown role %q", v.Name, v.Role)
		}
	}
	if continuous == 0 {
		return errors.NewConfigurationError("schema declares no continuous variables")
	}
	return nil
}

// Continuous returns continuous variables in declaration order.
func (s Schema) Continuous() []Variable {
	return s.byRole(RoleContinuous)
}

// Categorical returns categorical variables in declaration order.
func (s Schema) Categorical() []Variable {
	return s.byRole(RoleCategorical)
}

// Names returns every variable name in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Variables))
	for i, v := range s.Variables {
		names[i] = v.Name
	}
	return names
}

// Lookup finds a variable by name.
func (s Schema) Lookup(name string) (Variable, error) {
	for _, v := range s.Variables {
		if v.Name == name {
			return v, nil
		}
	}
	return Variable{}, fmt.Errorf("variable %q not in schema", name)
}

func (s Schema) byRole(role Role) []Variable {
	var out []Variable
	for _, v := range s.Variables {
		if v.Role == role {
			out = append(out, v)
		}
	}
	return out
}

// VariableNames maps a variable list to its names.
func VariableNames(vars []Variable) []string {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	return names
}
