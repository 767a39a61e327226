package deferral

import (
	"fmt"
	"strings"
	"time"
)

// Tone selects the opening line of an escalation message.
type Tone string

const (
	ToneNeutral Tone = "neutral"
	ToneGentle  Tone = "gentle"
	ToneUrgent  Tone = "urgent"
	ToneCurious Tone = "curious"
)

var intros = map[Tone]string{
	ToneNeutral: "Guidance requested on a pending action.",
	ToneGentle:  "When you have a moment, your guidance would help with a pending action.",
	ToneUrgent:  "URGENT: a pending action needs your decision before it can proceed.",
	ToneCurious: "A pending action raised a question worth your judgment.",
}

// TimeLayout is the timestamp format used in escalation messages.
const TimeLayout = "2006-01-02 15:04 UTC"

// Reply decisions.
const (
	DecisionApprove         = "approve"
	DecisionDecline         = "decline"
	DecisionNeedsReflection = "needs-reflection"
	DecisionHumanRequired   = "human-required"
)

// Options lists the fixed reply legend, in order.
var Options = []Option{
	{Key: DecisionApprove, Meaning: "proceed with the action as proposed"},
	{Key: DecisionDecline, Meaning: "do not perform the action"},
	{Key: DecisionNeedsReflection, Meaning: "reconsider and propose again"},
	{Key: DecisionHumanRequired, Meaning: "a human will handle this directly"},
}

type Option struct {
	Key     string
	Meaning string
}

// Request is the input of Render.
type Request struct {
	Action         string
	Risk           string
	ContextSummary string
	Echo           string // prior decision to echo back, optional
	Tone           Tone
}

// Render builds the escalation message. The output depends only on req and now.
func Render(req Request, now time.Time) string {
	intro, ok := intros[req.Tone]
	if !ok {
		intro = intros[ToneNeutral]
	}
	risk := req.Risk
	if risk == "" {
		risk = "unspecified"
	}

	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Time: %s\n", now.UTC().Format(TimeLayout))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Action: %s\n", req.Action)
	fmt.Fprintf(&b, "Risk: %s\n", risk)
	fmt.Fprintf(&b, "Context: %s\n", req.ContextSummary)
	if req.Echo != "" {
		fmt.Fprintf(&b, "Previously: %s\n", req.Echo)
	}
	b.WriteString("\nReply with one of:\n")
	for _, o := range Options {
		fmt.Fprintf(&b, "  %s - %s\n", o.Key, o.Meaning)
	}
	return b.String()
}

// ParseDecision maps a reply keyword to its legend key.
func ParseDecision(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, o := range Options {
		if s == o.Key {
			return o.Key, true
		}
	}
	return "", false
}
