package engine

// Enforcement is the Contract Enforcer's verdict for one category.
type Enforcement struct {
	Status   ContractStatus
	Question string
	Missing  []SignalRequirement
}

// Missing returns the requirements of c that the signals do not satisfy.
func (c Contract) Missing(s SignalSet) []SignalRequirement {
	var missing []SignalRequirement
	for _, req := range c.Requires {
		if !requirementMet(req, s) {
			missing = append(missing, req)
		}
	}
	return missing
}

func requirementMet(req SignalRequirement, s SignalSet) bool {
	if req.Kind == SignalSetting {
		_, ok := s.Setting(req.Value)
		return ok
	}
	return s.Has(req.Kind, req.Value)
}

// Enforce evaluates contracts in declaration order. The first violated
// contract's message becomes the clarifying question; every missing
// requirement across all contracts is reported.
func Enforce(contracts []Contract, s SignalSet) Enforcement {
	e := Enforcement{Status: ContractOK}
	for _, c := range contracts {
		missing := c.Missing(s)
		if len(missing) == 0 {
			continue
		}
		if e.Status == ContractOK {
			e.Status = ContractBlocked
			e.Question = c.ViolationMessage
		}
		e.Missing = append(e.Missing, missing...)
	}
	return e
}
