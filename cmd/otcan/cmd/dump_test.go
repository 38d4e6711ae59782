package cmd

import (
	"testing"

	"github.com/OpenTraceLab/OpenTraceCAN/pkg/gsusb"
)

func TestStatePolling(t *testing.T) {
	tests := []struct {
		name            string
		requested       bool
		feature         gsusb.Feature
		wantPoll        bool
		wantUnsupported bool
	}{
		{"not requested", false, gsusb.FeatureGetState, false, false},
		{"requested and supported", true, gsusb.FeatureGetState | gsusb.FeatureFD, true, false},
		{"requested without support", true, gsusb.FeatureFD, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := gsusb.DeviceCapability{Feature: tt.feature}
			poll, unsupported := statePolling(tt.requested, caps)
			if poll != tt.wantPoll || unsupported != tt.wantUnsupported {
				t.Errorf("statePolling(%v, %#x) = (%v, %v), want (%v, %v)",
					tt.requested, tt.feature, poll, unsupported, tt.wantPoll, tt.wantUnsupported)
			}
		})
	}
}
