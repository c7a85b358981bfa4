package correlate

import (
	"math"

	"github.com/mkendrick/crosswind/internal/config"
	"github.com/mkendrick/crosswind/internal/domain"
)

const methodologyNote = "Observational cross-domain correlation (Pearson r, two-tailed t-test, " +
	"Benjamini-Hochberg FDR correction). No causal inference was performed and no " +
	"external validation data exists for these domain pairs; treat this as a " +
	"statistical association only."

// strongCoefficient marks results strong enough that readers tend to assume
// causation. Those get the explicit unsupported-by-design label instead of
// any stronger claim.
const strongCoefficient = 0.9

// assessCausation builds the assessment attached to every result,
// significant or not. Likelihood defaults to low; a configuration-supplied
// allow-list of plausible direct mechanisms raises it to medium, never
// higher. Very strong significant correlations outside the allow-list are
// labeled unsupported-by-design so the cap on causal claims is explicit in
// the output rather than implied.
func assessCausation(pair domain.VariablePair, coefficient float64, significant bool, cfg *config.Config) domain.CausationAssessment {
	likelihood := domain.LikelihoodLow
	if cfg.MechanismAllowList[pair.ID()] {
		likelihood = domain.LikelihoodMedium
	} else if significant && math.Abs(coefficient) >= strongCoefficient {
		likelihood = domain.LikelihoodUnsupported
	}

	key := config.ConfoundKey(string(pair.DomainA), string(pair.DomainB))
	confounds := cfg.ConfoundRules[key]
	if len(confounds) == 0 {
		confounds = []string{"unmodeled shared temporal trends"}
	}
	// Copy so callers can't mutate the rules table through the result.
	factors := make([]string, len(confounds))
	copy(factors, confounds)

	return domain.CausationAssessment{
		Likelihood:         likelihood,
		ConfoundingFactors: factors,
		MethodologyNote:    methodologyNote,
	}
}
