package ui

import (
	"testing"

	"github.com/zsprackett/tokengauge/internal/dashboard"
	"github.com/zsprackett/tokengauge/internal/usage"
)

func TestSeverityColorCritical(t *testing.T) {
	if SeverityColor(usage.SeverityCritical) != ColorError {
		t.Error("expected error color for critical")
	}
}

func TestSeverityColorsDistinct(t *testing.T) {
	seen := make(map[any]usage.Severity)
	for _, s := range []usage.Severity{usage.SeverityNA, usage.SeverityNormal, usage.SeverityWarning, usage.SeverityCritical} {
		c := SeverityColor(s)
		if prev, ok := seen[c]; ok {
			t.Errorf("%s and %s share a color", prev, s)
		}
		seen[c] = s
	}
}

func TestSeverityColorUnknownIsMuted(t *testing.T) {
	if SeverityColor("bogus") != SeverityColor(usage.SeverityNA) {
		t.Error("unknown severity should look like na")
	}
}

func TestTitleColorMarksBusyStates(t *testing.T) {
	if TitleColor(dashboard.Ready) != ColorPrimary {
		t.Error("ready title should use the primary color")
	}
	for _, s := range []dashboard.State{dashboard.Loading, dashboard.Refreshing} {
		if TitleColor(s) != ColorAccent {
			t.Errorf("%s title should use the accent color", s)
		}
	}
}
