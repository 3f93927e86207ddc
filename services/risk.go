package services

import (
	"context"

	"chat-server/models"
)

// RiskSignal is the score attached to a newly created session
type RiskSignal struct {
	Score      int      `json:"score"`
	Suspicious bool     `json:"suspicious"`
	Factors    []string `json:"factors"`
}

// DeviceFacts is the input to risk scoring
type DeviceFacts struct {
	Device      models.DeviceInfo
	Location    models.LocationInfo
	IsNewDevice bool
}

// RiskScorer is the external scoring surface. The heuristics are not part of
// this core's contract, only the shape of the call.
type RiskScorer interface {
	Score(ctx context.Context, facts DeviceFacts, recentSessions []*models.Session) (RiskSignal, error)
}

// BasicRiskScorer is a small built-in scorer; deployments wanting real
// heuristics inject their own RiskScorer.
type BasicRiskScorer struct {
	SuspiciousThreshold int
}

func NewBasicRiskScorer(threshold int) *BasicRiskScorer {
	return &BasicRiskScorer{SuspiciousThreshold: threshold}
}

func (s *BasicRiskScorer) Score(ctx context.Context, facts DeviceFacts, recentSessions []*models.Session) (RiskSignal, error) {
	signal := RiskSignal{Factors: []string{}}

	if facts.IsNewDevice {
		signal.Score += 30
		signal.Factors = append(signal.Factors, "new_device")
	}

	if facts.Location.Country != "" {
		known := false
		for _, prev := range recentSessions {
			if prev.Location.Country == facts.Location.Country {
				known = true
				break
			}
		}
		if !known && len(recentSessions) > 0 {
			signal.Score += 35
			signal.Factors = append(signal.Factors, "new_country")
		}
	}

	// Many distinct fingerprints in the recent window suggests credential
	// sharing or stuffing
	fingerprints := make(map[string]struct{})
	for _, prev := range recentSessions {
		fingerprints[prev.Device.Fingerprint] = struct{}{}
	}
	if len(fingerprints) > 5 {
		signal.Score += 25
		signal.Factors = append(signal.Factors, "many_devices")
	}

	if signal.Score > 100 {
		signal.Score = 100
	}
	signal.Suspicious = signal.Score >= s.SuspiciousThreshold
	return signal, nil
}
