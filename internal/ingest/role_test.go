package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/fin-groups/internal/entity"
)

func TestClassifyRole(t *testing.T) {
	tests := []struct {
		role string
		want entity.ControlLevel
	}{
		{"director", entity.ControlManagement},
		{"Director", entity.ControlManagement},
		{"Директор", entity.ControlManagement},
		{"керівник", entity.ControlManagement},
		{" підписант ", entity.ControlManagement},
		{"Signatory", entity.ControlManagement},
		{"Кінцевий бенефіціарний власник", entity.ControlBeneficial},
		{"Ultimate Beneficial Owner", entity.ControlBeneficial},
		{"Засновник", entity.ControlDirect},
		{"Founder", entity.ControlDirect},
		{"owner", entity.ControlDirect},
		{"", entity.ControlDirect},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRole(tt.role))
		})
	}
}
