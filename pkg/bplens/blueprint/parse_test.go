package blueprint

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
)

const motionLight = `
blueprint:
  name: Motion-activated Light
  domain: automation
  source_url: https://github.com/home-assistant/core/motion_light.yaml
  input:
    motion_entity:
      name: Motion Sensor
      selector:
        entity:
          domain: binary_sensor
          device_class: motion
    light_target:
      name: Light
      selector:
        target:
          entity:
            domain: light
    no_motion_wait:
      name: Wait time
      default: 120
mode: restart
max_exceeded: silent
trigger:
  platform: state
  entity_id: !input motion_entity
  from: "off"
  to: "on"
action:
  - alias: "Turn on the light"
    service: light.turn_on
    target: !input light_target
  - wait_for_trigger:
      platform: state
      entity_id: !input motion_entity
      from: "on"
      to: "off"
  - delay:
      seconds: !input no_motion_wait
  - service: light.turn_off
    target: !input light_target
`

func mustParse(t *testing.T, text string) *Node {
	t.Helper()
	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	n, err := p.Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return n
}

func TestParseInputTag(t *testing.T) {
	root := mustParse(t, motionLight)

	trigger, ok := root.Get("trigger")
	if !ok {
		t.Fatal("expected trigger section")
	}
	ref, _ := trigger.Get("entity_id")
	if ref.Kind != KindInputRef || ref.Ref != "motion_entity" {
		t.Fatalf("expected input ref to motion_entity, got %s %q", ref.Kind, ref.Ref)
	}
	from, _ := trigger.Get("from")
	if from.Kind != KindScalar || from.Value != "off" {
		t.Errorf("expected quoted scalar \"off\", got %v", from.Value)
	}

	want := []string{"blueprint", "mode", "max_exceeded", "trigger", "action"}
	if len(root.Keys) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, root.Keys)
	}
	for i, k := range want {
		if root.Keys[i] != k {
			t.Errorf("key %d: expected %s, got %s", i, k, root.Keys[i])
		}
	}
}

func TestParseLiteralInputText(t *testing.T) {
	root := mustParse(t, "trigger:\n  platform: \"!input\"\n")
	trigger, _ := root.Get("trigger")
	v, _ := trigger.Get("platform")
	if v.Kind != KindScalar || v.Value != "!input" {
		t.Fatalf("quoted !input text should stay a scalar, got %s", v.Kind)
	}
}

func TestParseScalarTypes(t *testing.T) {
	root := mustParse(t, "a: 5\nb: 1.5\nc: true\nd: null\ne: text\nf: !secret api_key\n")

	tests := []struct {
		key  string
		want any
	}{
		{"a", 5},
		{"b", 1.5},
		{"c", true},
		{"d", nil},
		{"e", "text"},
		{"f", "api_key"},
	}
	for _, tt := range tests {
		v, ok := root.Get(tt.key)
		if !ok {
			t.Fatalf("missing key %s", tt.key)
		}
		if v.Value != tt.want {
			t.Errorf("%s: expected %v (%T), got %v (%T)", tt.key, tt.want, tt.want, v.Value, v.Value)
		}
	}
}

func TestParseMergeKeys(t *testing.T) {
	text := `
base: &base
  platform: state
  to: "on"
trigger:
  <<: *base
  to: "off"
`
	root := mustParse(t, text)
	trigger, _ := root.Get("trigger")
	if v, _ := trigger.Get("platform"); v.Text() != "state" {
		t.Errorf("expected merged platform, got %q", v.Text())
	}
	if v, _ := trigger.Get("to"); v.Text() != "off" {
		t.Errorf("explicit key should win over merged key, got %q", v.Text())
	}
}

func TestParseFailures(t *testing.T) {
	p, err := NewParser(WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"malformed", "trigger: [unclosed\n"},
		{"nested mapping value", "a: b: c\n"},
		{"input tag on mapping", "trigger: !input\n  a: 1\n"},
		{"alias bomb", aliasBomb(9)},
		{"merge bomb", mergeBomb(14)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := p.Parse(tt.text)
			if err == nil {
				t.Fatalf("expected error, got tree %s", n)
			}
			if !errors.Is(err, internalerr.ErrParse) {
				t.Errorf("expected ErrParse, got %v", err)
			}
		})
	}
}

// aliasBomb nests levels of ten aliases to the previous anchor.
func aliasBomb(levels int) string {
	var b strings.Builder
	b.WriteString("a0: &a0 [x, x, x, x, x, x, x, x, x, x]\n")
	for i := 1; i <= levels; i++ {
		ref := fmt.Sprintf("*a%d", i-1)
		fmt.Fprintf(&b, "a%d: &a%d [%s]\n", i, i, strings.Repeat(ref+", ", 9)+ref)
	}
	return b.String()
}

// mergeBomb doubles the merged mapping at every level.
func mergeBomb(levels int) string {
	var b strings.Builder
	b.WriteString("m0: &m0 {a: [x, x, x, x, x, x, x, x], b: [x, x, x, x, x, x, x, x]}\n")
	for i := 1; i <= levels; i++ {
		fmt.Fprintf(&b, "m%d: &m%d\n  l: {<<: *m%d}\n  r: {<<: *m%d}\n", i, i, i-1, i-1)
	}
	return b.String()
}

func TestParseAliasBudget(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = p.Parse(aliasBomb(6))
	if !errors.Is(err, internalerr.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if !strings.Contains(err.Error(), "excessive aliasing") {
		t.Errorf("error %q does not mention aliasing", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("rejecting alias bomb took %s", elapsed)
	}

	// Modest alias reuse stays within budget.
	n, err := p.Parse(aliasBomb(2))
	if err != nil {
		t.Fatalf("small aliased document rejected: %v", err)
	}
	a2, ok := n.Get("a2")
	if !ok || len(a2.Items) != 10 {
		t.Errorf("a2 = %v, want ten items", a2)
	}
}

func TestParserCacheReturnsCopies(t *testing.T) {
	p, err := NewParser(WithCache(8))
	if err != nil {
		t.Fatal(err)
	}

	first, err := p.Parse(motionLight)
	if err != nil {
		t.Fatal(err)
	}
	first.Delete("trigger")

	second, err := p.Parse(motionLight)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := second.Get("trigger"); !ok {
		t.Fatal("mutating a parsed tree must not affect later parses")
	}
}

func TestParserCacheInvalidSize(t *testing.T) {
	if _, err := NewParser(WithCache(0)); err == nil {
		t.Fatal("expected error for zero cache size")
	}
}

func TestHash(t *testing.T) {
	if Hash("a") == Hash("b") {
		t.Fatal("different inputs should hash differently")
	}
	if len(Hash("a")) != 64 {
		t.Errorf("expected hex sha256, got %q", Hash("a"))
	}
}
