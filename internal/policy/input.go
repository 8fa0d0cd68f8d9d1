package policy

import (
	"encoding/json"

	"github.com/jordigilh/kubernaut-sub006/internal/signal"
)

// Input is the structured document handed to policy evaluation. It carries
// everything a customer rule may branch on: the raw signal, the topology
// snapshot, the owner chain, the detected characteristics, and the already
// classified environment when the priority stage runs.
type Input struct {
	Signal          *signal.Signal                  `json:"signal,omitempty"`
	Topology        *signal.TopologyContext         `json:"topology,omitempty"`
	OwnerChain      signal.OwnerChain               `json:"ownerChain,omitempty"`
	Characteristics *signal.DetectedCharacteristics `json:"characteristics,omitempty"`
	Environment     string                          `json:"environment,omitempty"`
}

// toMap converts the input to the generic document form Rego consumes.
// The JSON round trip keeps the policy-visible field names identical to
// the status object the customer sees on completed work items.
func (in Input) toMap() map[string]interface{} {
	data, err := json.Marshal(in)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
