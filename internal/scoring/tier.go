// Package scoring turns model outputs into bro points and tier labels.
package scoring

// Tier is the label attached to a score.
type Tier string

const (
	TierPeasant    Tier = "Peasant"
	TierAnalyst    Tier = "Analyst"
	TierAssociate  Tier = "Associate"
	TierVPOfCringe Tier = "VP of Cringe"
	TierCEO        Tier = "CEO of Insufferable"
)

// Tiers lists every tier from lowest to highest.
var Tiers = []Tier{TierPeasant, TierAnalyst, TierAssociate, TierVPOfCringe, TierCEO}

// TierFor maps a score to its tier. Bounds are inclusive upper limits.
func TierFor(score int) Tier {
	switch {
	case score <= 199:
		return TierPeasant
	case score <= 399:
		return TierAnalyst
	case score <= 599:
		return TierAssociate
	case score <= 799:
		return TierVPOfCringe
	default:
		return TierCEO
	}
}
