package ingest

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/fin-groups/internal/entity"
)

var managementRoles = map[string]struct{}{
	"director":  {},
	"директор":  {},
	"керівник":  {},
	"manager":   {},
	"підписант": {},
	"signatory": {},
}

var beneficialMarkers = []string{"бенефіціар", "beneficial"}

// ClassifyRole maps a free-text role label to a control level.
func ClassifyRole(role string) entity.ControlLevel {
	r := strings.TrimSpace(cases.Fold().String(role))
	if _, ok := managementRoles[r]; ok {
		return entity.ControlManagement
	}
	for _, m := range beneficialMarkers {
		if strings.Contains(r, m) {
			return entity.ControlBeneficial
		}
	}
	return entity.ControlDirect
}
