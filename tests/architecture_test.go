package tests

import (
	"testing"

	"github.com/arch-go/arch-go/api"
	"github.com/arch-go/arch-go/api/configuration"
)

// TestArchitecture validates that the codebase follows the defined architectural constraints.
//
// This test enforces that:
//   - The coordination substrate packages (pkg/cluster/...) stay independent
//     of the leadership core and the dispatcher
//   - Infrastructure packages (events, metrics, introspection, config) do
//     not depend on the leadership core
//
// The architectural rules are defined in arch-go.yml in the project root.
//
// This test runs as part of the normal test suite and will fail CI if architecture
// constraints are violated.
func TestArchitecture(t *testing.T) {
	// Load module information
	moduleInfo := configuration.Load("controller-leadership")

	// Load configuration from arch-go.yml
	config, err := configuration.LoadConfig("../arch-go.yml")
	if err != nil {
		t.Fatalf("Failed to load arch-go.yml configuration: %v", err)
	}

	// Run architecture validation
	result := api.CheckArchitecture(moduleInfo, *config)

	if !result.Pass {
		t.Errorf("Architecture validation failed!\n")

		if result.DependenciesRuleResult != nil && !result.DependenciesRuleResult.Passes {
			t.Errorf("Dependencies rule violations:")
			for _, ruleResult := range result.DependenciesRuleResult.Results {
				if !ruleResult.Passes {
					t.Errorf("\n  Rule: %s", ruleResult.Description)
					for _, verification := range ruleResult.Verifications {
						if !verification.Passes {
							t.Errorf("    Package: %s", verification.Package)
							for _, detail := range verification.Details {
								t.Errorf("      - %s", detail)
							}
						}
					}
				}
			}
		}

		t.Fatal("Architecture validation failed. See violations above.")
	}

	t.Logf("Architecture validation passed!")
	t.Logf("Duration: %v", result.Duration)
}
