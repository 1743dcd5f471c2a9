package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStageSequenceValidate(t *testing.T) {
	tests := []struct {
		name    string
		stages  StageSequence
		wantErr string
	}{
		{
			name:   "canonical progression",
			stages: StageSequence{{Percent: 1}, {Percent: 5}, {Percent: 25}, {Percent: 50}, {Percent: 100}},
		},
		{
			name:   "single stage straight to 100",
			stages: StageSequence{{Percent: 100}},
		},
		{
			name:    "empty sequence",
			stages:  StageSequence{},
			wantErr: "empty",
		},
		{
			name:    "not strictly increasing",
			stages:  StageSequence{{Percent: 10}, {Percent: 10}, {Percent: 100}},
			wantErr: "must be greater than",
		},
		{
			name:    "decreasing",
			stages:  StageSequence{{Percent: 50}, {Percent: 25}, {Percent: 100}},
			wantErr: "must be greater than",
		},
		{
			name:    "exceeds 100",
			stages:  StageSequence{{Percent: 50}, {Percent: 101}},
			wantErr: "exceeds 100",
		},
		{
			name:    "does not end at 100",
			stages:  StageSequence{{Percent: 10}, {Percent: 50}},
			wantErr: "last stage must be 100",
		},
		{
			name:    "zero percent stage",
			stages:  StageSequence{{Percent: 0}, {Percent: 100}},
			wantErr: "must be greater than",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stages.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTransactionSpecValidate(t *testing.T) {
	valid := func() *TransactionSpec {
		return &TransactionSpec{
			Project: "acme-prod",
			Service: "checkout",
			Image:   "gcr.io/acme-prod/checkout:v42",
			Regions: []string{"us-central1", "europe-west1"},
			Stages:  StageSequence{{Percent: 10}, {Percent: 100}},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing project", func(t *testing.T) {
		spec := valid()
		spec.Project = ""
		assert.Error(t, spec.Validate())
	})

	t.Run("missing service", func(t *testing.T) {
		spec := valid()
		spec.Service = ""
		assert.Error(t, spec.Validate())
	})

	t.Run("missing image", func(t *testing.T) {
		spec := valid()
		spec.Image = ""
		assert.Error(t, spec.Validate())
	})

	t.Run("no regions", func(t *testing.T) {
		spec := valid()
		spec.Regions = nil
		assert.Error(t, spec.Validate())
	})

	t.Run("duplicate regions", func(t *testing.T) {
		spec := valid()
		spec.Regions = []string{"us-central1", "us-central1"}
		assert.Error(t, spec.Validate())
	})

	t.Run("invalid stages", func(t *testing.T) {
		spec := valid()
		spec.Stages = StageSequence{{Percent: 10}}
		assert.Error(t, spec.Validate())
	})
}

func TestServiceRefName(t *testing.T) {
	ref := ServiceRef{Project: "acme-prod", Region: "us-central1", Service: "checkout"}
	assert.Equal(t, "projects/acme-prod/locations/us-central1/services/checkout", ref.Name())
	assert.Equal(t, "checkout@us-central1", ref.String())
}

func TestTransactionTerminal(t *testing.T) {
	tx := &DeploymentTransaction{Status: TransactionInProgress}
	assert.False(t, tx.Terminal())

	tx.Status = TransactionSucceeded
	assert.True(t, tx.Terminal())

	tx.Status = TransactionRolledBack
	assert.True(t, tx.Terminal())
}

func TestDurationYAML(t *testing.T) {
	var st Stage
	err := yaml.Unmarshal([]byte("percent: 25\ndwell: 5m\ncadence: 30s\n"), &st)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, st.Dwell.Std())
	assert.Equal(t, 30*time.Second, st.Cadence.Std())

	err = yaml.Unmarshal([]byte("percent: 25\ndwell: nonsense\n"), &st)
	assert.Error(t, err)
}

func TestRevisionHasTag(t *testing.T) {
	rev := Revision{Name: "checkout-00042-abc", Tags: []string{"stable"}}
	assert.True(t, rev.HasTag("stable"))
	assert.False(t, rev.HasTag("candidate"))
}
