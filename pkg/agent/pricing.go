package agent

import "github.com/rhuss/atelier/pkg/provider"

// Pricing holds per-million-token prices in USD.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost returns the USD cost of u.
func (p Pricing) Cost(u provider.Usage) float64 {
	return float64(u.InputTokens)*p.InputPerMTok/1e6 + float64(u.OutputTokens)*p.OutputPerMTok/1e6
}
