package module

import (
	"encoding/json"
	"fmt"

	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/consensus/params"
)

// ParamsCtrlModuleId is the reserved ModuleId for federation reconfiguration
// proposals (§4.3 Reconfiguration). A CItem addressed here carries a
// JSON-encoded candidate params.ConsensusParams; once the round carrying it
// is finalized, the driver turns the resulting Effect into an
// engine.EventReconfigureParams, which Step schedules to take effect
// schedule_delay rounds later.
const ParamsCtrlModuleId consensus.ModuleId = 0

// ParamsCtrl is the built-in module governing ConsensusParams changes.
// Adapted from the teacher's evidence.Pool: both validate one incoming item
// deterministically against the module's own state and, once accepted,
// apply an Effect that mutates a single piece of federation-wide
// bookkeeping — here the active ConsensusParams, there a pending evidence
// report.
type ParamsCtrl struct {
	current params.ConsensusParams
}

// NewParamsCtrl seeds a ParamsCtrl with the federation's current params, so
// Process can check a candidate's basic shape before accepting it.
func NewParamsCtrl(current params.ConsensusParams) *ParamsCtrl {
	return &ParamsCtrl{current: current}
}

func (m *ParamsCtrl) ID() consensus.ModuleId { return ParamsCtrlModuleId }

// Process accepts item iff its signature verifies under its claimed
// signer, that signer is a current federation member, and the item decodes
// to a ConsensusParams with a non-empty peer set. Deeper validation (e.g.
// that the change doesn't shrink the federation below a workable
// threshold) is left to the operator proposing it — the module only
// enforces what would otherwise corrupt consensus. The signature/membership
// check here is a second, module-level enforcement of the same Validation
// Rule engine.Machine already applies before a CItem is ever included in a
// block payload (defense against Process being exercised directly, outside
// the driver's usual CItem admission path).
func (m *ParamsCtrl) Process(item consensus.CItem) (bool, []Effect, error) {
	if !m.current.Peers.Contains(item.Signer) {
		return false, nil, nil
	}
	if err := item.VerifySignature(); err != nil {
		return false, nil, nil
	}
	var candidate params.ConsensusParams
	if err := json.Unmarshal(item.ModuleInput, &candidate); err != nil {
		return false, nil, nil
	}
	if candidate.Peers.Len() == 0 {
		return false, nil, nil
	}
	return true, []Effect{{ModuleId: ParamsCtrlModuleId, Payload: item.ModuleInput}}, nil
}

func (m *ParamsCtrl) ApplyEffect(e Effect) error {
	var candidate params.ConsensusParams
	if err := json.Unmarshal(e.Payload, &candidate); err != nil {
		return fmt.Errorf("module: paramsctrl apply effect: %w", err)
	}
	m.current = candidate
	return nil
}

// Current returns the module's latest applied ConsensusParams.
func (m *ParamsCtrl) Current() params.ConsensusParams { return m.current }
