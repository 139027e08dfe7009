package policy

import (
	"reflect"
	"testing"
)

func TestTrustRegistry(t *testing.T) {
	reg := NewTrustRegistry([]string{"actions", "MyOrg"}, []string{"docker/build-push-action"})

	tests := []struct {
		slug string
		want bool
	}{
		{"actions/checkout", true},
		{"Actions/setup-node", true},
		{"myorg/internal-tool", true},
		{"docker/build-push-action", true},
		{"Docker/Build-Push-Action", true},
		{"docker/login-action", false},
		{"stranger/action", false},
	}

	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			if got := reg.TrustedSlug(tt.slug); got != tt.want {
				t.Errorf("TrustedSlug(%q) = %v, want %v", tt.slug, got, tt.want)
			}
		})
	}

	if !reg.TrustedOwner("ACTIONS") {
		t.Error("owner matching should be case-insensitive")
	}
	if got := reg.Owners(); !reflect.DeepEqual(got, []string{"actions", "myorg"}) {
		t.Errorf("Owners() = %v", got)
	}
}

func TestScoreWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		weights ScoreWeights
		wantErr bool
	}{
		{
			name:    "defaults",
			weights: DefaultWeights(),
			wantErr: false,
		},
		{
			name:    "custom valid",
			weights: ScoreWeights{Syntax: 15, ActionRefs: 15, SecretRefs: 20, Performance: 25, Security: 25},
			wantErr: false,
		},
		{
			name:    "total off",
			weights: ScoreWeights{Syntax: 20, ActionRefs: 20, SecretRefs: 20, Performance: 20, Security: 15},
			wantErr: true,
		},
		{
			name:    "weight out of range",
			weights: ScoreWeights{Syntax: 40, ActionRefs: 15, SecretRefs: 15, Performance: 15, Security: 15},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPolicy_Normalized(t *testing.T) {
	var nilPolicy *Policy
	p := nilPolicy.Normalized()
	if p.MaxMatrixProduct != DefaultMaxMatrixProduct {
		t.Errorf("MaxMatrixProduct = %d", p.MaxMatrixProduct)
	}
	if p.Weights != DefaultWeights() {
		t.Errorf("Weights = %+v", p.Weights)
	}
	if !p.Trust.TrustedOwner("actions") {
		t.Error("default trust should include actions")
	}

	custom := (&Policy{KnownSecrets: []string{"NPM_TOKEN"}}).Normalized()
	if !custom.KnowsSecret("NPM_TOKEN") {
		t.Error("KnowsSecret(NPM_TOKEN) = false")
	}
	if custom.KnowsSecret("OTHER") {
		t.Error("KnowsSecret(OTHER) = true")
	}
}

func TestPolicy_Forbidden(t *testing.T) {
	p := &Policy{ForbiddenActions: []string{"sketchy/uploader"}}
	if !p.Forbidden("Sketchy/Uploader") {
		t.Error("Forbidden should match case-insensitively")
	}
	if p.Forbidden("actions/checkout") {
		t.Error("unlisted action reported forbidden")
	}
}
