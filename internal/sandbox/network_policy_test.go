package sandbox

import (
	"testing"

	"github.com/abgutierrez/buntime/internal/policy"
)

func TestNetworkFullyOpen(t *testing.T) {
	tests := []struct {
		name string
		p    policy.Policy
		want bool
	}{
		{
			name: "default deny",
			p:    policy.Policy{Defaults: policy.Defaults{Net: policy.Deny}},
			want: false,
		},
		{
			name: "default allow, no narrowing rules",
			p:    policy.Policy{Defaults: policy.Defaults{Net: policy.Allow}},
			want: true,
		},
		{
			name: "default allow with a rule narrows it",
			p: policy.Policy{
				Defaults: policy.Defaults{Net: policy.Allow},
				NetRules: []policy.NetRule{{Action: policy.Deny, CIDR: "10.0.0.0/8"}},
			},
			want: false,
		},
		{
			name: "default warn is not fully open",
			p:    policy.Policy{Defaults: policy.Defaults{Net: policy.Warn}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NetworkFullyOpen(tt.p); got != tt.want {
				t.Errorf("NetworkFullyOpen() = %v, want %v", got, tt.want)
			}
		})
	}
}
