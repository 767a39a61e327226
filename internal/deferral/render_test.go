package deferral

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 3, 4, 5, 6, 59, 0, time.UTC)

func TestRenderDeterministic(t *testing.T) {
	req := Request{Action: "speak to #general", Risk: "high", ContextSummary: "user asked for medical advice", Tone: ToneUrgent}
	assert.Equal(t, Render(req, now), Render(req, now))
}

func TestRenderLayout(t *testing.T) {
	out := Render(Request{
		Action:         "tool: delete_file",
		Risk:           "medium",
		ContextSummary: "cleanup request",
		Echo:           "declined a similar request yesterday",
		Tone:           ToneGentle,
	}, now)

	lines := strings.Split(out, "\n")
	assert.Equal(t, intros[ToneGentle], lines[0])
	assert.Equal(t, "Time: 2026-03-04 05:06 UTC", lines[1])
	assert.Contains(t, out, "Action: tool: delete_file\n")
	assert.Contains(t, out, "Risk: medium\n")
	assert.Contains(t, out, "Context: cleanup request\n")
	assert.Contains(t, out, "Previously: declined a similar request yesterday\n")
}

func TestRenderAlwaysHasLegend(t *testing.T) {
	for _, tone := range []Tone{ToneNeutral, ToneGentle, ToneUrgent, ToneCurious, "", "bogus"} {
		out := Render(Request{Action: "a", Tone: tone}, now)
		for _, key := range []string{"approve", "decline", "needs-reflection", "human-required"} {
			assert.Contains(t, out, "  "+key+" - ", "tone %q", tone)
		}
	}
}

func TestRenderDefaults(t *testing.T) {
	out := Render(Request{Action: "a"}, now)
	assert.True(t, strings.HasPrefix(out, intros[ToneNeutral]+"\n"))
	assert.Contains(t, out, "Risk: unspecified")
	assert.NotContains(t, out, "Previously:")
}

func TestRenderConvertsToUTC(t *testing.T) {
	local := now.In(time.FixedZone("UTC+8", 8*3600))
	assert.Contains(t, Render(Request{Action: "a"}, local), "Time: 2026-03-04 05:06 UTC")
}

func TestParseDecision(t *testing.T) {
	d, ok := ParseDecision(" Needs-Reflection ")
	assert.True(t, ok)
	assert.Equal(t, "needs-reflection", d)
	_, ok = ParseDecision("maybe")
	assert.False(t, ok)
}
