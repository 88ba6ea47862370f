package policyengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func intPtr(v int) *int { return &v }

// TestCheckPacket_UnmatchedReturnsAllow covers the unmatched half of P5.
func TestCheckPacket_UnmatchedReturnsAllow(t *testing.T) {
	e := New()
	e.Create(&Policy{ID: "p1", Priority: 10, Status: StatusActive, Action: "drop",
		Conditions: Conditions{DstIP: "10.0.1.99"}})

	d := e.CheckPacket(Packet{DstIP: "10.0.1.1"})
	assert.Equal(t, ActionAllow, d.Action)
}

// TestCheckPacket_PriorityTieBreak covers scenario 4: P1 allow@50, P2
// block@100 on dst_ip 10.0.1.20 both active; packet to 10.0.1.20 resolves
// to the higher-priority P2's drop.
func TestCheckPacket_PriorityTieBreak(t *testing.T) {
	e := New()
	e.Create(&Policy{ID: "p1", Priority: 50, Status: StatusActive, Action: "allow"})
	e.Create(&Policy{ID: "p2", Priority: 100, Status: StatusActive, Action: "block",
		Conditions: Conditions{DstIP: "10.0.1.20"}})

	d := e.CheckPacket(Packet{DstIP: "10.0.1.20"})
	assert.Equal(t, ActionDrop, d.Action)
	assert.Equal(t, "p2", d.PolicyID)
}

// TestCheckPacket_EqualPriorityLastWins covers the documented tie-break:
// among equal-priority matches, the most recently created/updated policy
// wins.
func TestCheckPacket_EqualPriorityLastWins(t *testing.T) {
	e := New()
	e.Create(&Policy{ID: "p1", Priority: 10, Status: StatusActive, Action: "allow"})
	e.Create(&Policy{ID: "p2", Priority: 10, Status: StatusActive, Action: "drop"})

	d := e.CheckPacket(Packet{SrcIP: "10.0.0.5"})
	assert.Equal(t, "p2", d.PolicyID)
	assert.Equal(t, ActionDrop, d.Action)
}

// TestCheckPacket_ACLDeniedDominatesAllow covers scenario 5 / P6: a target
// scoped policy with overlapping allowed_ips/denied_ips resolves to drop
// because denied takes precedence.
func TestCheckPacket_ACLDeniedDominatesAllow(t *testing.T) {
	e := New()
	e.Create(&Policy{
		ID: "p1", Priority: 10, Status: StatusActive, Action: "allow",
		Scope: Scope{TargetID: "HMI1-MAC"},
		Conditions: Conditions{
			AllowedIPs: []string{"10.0.3.20"},
			DeniedIPs:  []string{"10.0.3.20"},
		},
	})

	d := e.CheckPacket(Packet{SrcMAC: "HMI1-MAC", DstIP: "10.0.3.20"})
	assert.Equal(t, ActionDrop, d.Action)
}

func TestCheckPacket_AllowedListExcludesNonMember(t *testing.T) {
	e := New()
	e.Create(&Policy{
		ID: "p1", Priority: 10, Status: StatusActive, Action: "allow",
		Scope:      Scope{TargetID: "HMI1-MAC"},
		Conditions: Conditions{AllowedIPs: []string{"10.0.3.20"}},
	})

	d := e.CheckPacket(Packet{SrcMAC: "HMI1-MAC", DstIP: "10.0.9.9"})
	assert.Equal(t, ActionDrop, d.Action)
}

// TestCheckPacket_ACLAbstainsWhenAllowedAndNotDenied covers spec §4.8 step 3:
// an ACL policy whose remote is allowed and not denied must abstain rather
// than match, letting a lower-priority policy's drop take effect.
func TestCheckPacket_ACLAbstainsWhenAllowedAndNotDenied(t *testing.T) {
	e := New()
	e.Create(&Policy{
		ID: "p1", Priority: 100, Status: StatusActive, Action: "allow",
		Scope:      Scope{TargetID: "HMI1-MAC"},
		Conditions: Conditions{AllowedIPs: []string{"10.0.3.20"}, DeniedIPs: []string{"10.0.3.99"}},
	})
	e.Create(&Policy{ID: "p2", Priority: 1, Status: StatusActive, Action: "drop"})

	d := e.CheckPacket(Packet{SrcMAC: "HMI1-MAC", DstIP: "10.0.3.20"})
	assert.Equal(t, "p2", d.PolicyID, "the ACL policy must abstain, not match with its flat allow")
	assert.Equal(t, ActionDrop, d.Action)
}

func TestExtractAction_NestedShapeAndSynonyms(t *testing.T) {
	p := &Policy{
		ID: "p1",
		Actions: Actions{PrimaryAction: &PrimaryAction{
			ActionType:   "deny",
			ActionParams: ActionParams{},
		}},
	}
	d := extractAction(p)
	assert.Equal(t, ActionDrop, d.Action)
}

func TestExtractAction_ThrottleBandwidthMbpsFloorsAt1000(t *testing.T) {
	bw := 0.5
	p := &Policy{ID: "p1", Action: "throttle", ActionParams: ActionParams{BandwidthMbps: &bw}}
	d := extractAction(p)
	assert.Equal(t, 1000, d.RateLimit)
}

func TestExtractAction_RedirectLegacyShape(t *testing.T) {
	p := &Policy{ID: "p1", Action: "redirect", ActionParams: ActionParams{RedirectTarget: "10.0.5.5"}}
	d := extractAction(p)
	assert.Equal(t, "10.0.5.5", d.RedirectIP)
}

func TestExtractAction_RedirectNestedShape(t *testing.T) {
	p := &Policy{ID: "p1", Action: "redirect", ActionParams: ActionParams{
		Targets: []RedirectTarget{{IP: "10.0.6.6", Port: 8080}},
	}}
	d := extractAction(p)
	assert.Equal(t, "10.0.6.6", d.RedirectIP)
	assert.Equal(t, 8080, d.RedirectPort)
}

func TestCheckPacket_DstPortMustMatch(t *testing.T) {
	e := New()
	e.Create(&Policy{ID: "p1", Priority: 1, Status: StatusActive, Action: "drop",
		Conditions: Conditions{DstPort: intPtr(502)}})

	assert.Equal(t, ActionAllow, e.CheckPacket(Packet{DstPort: 80}).Action)
	assert.Equal(t, ActionDrop, e.CheckPacket(Packet{DstPort: 502}).Action)
}

// TestCheckPacket_HighestPriorityAlwaysWinsAmongMatches is a property test
// over random priority sets: the resolved action must always belong to a
// matched policy whose priority is >= every other matched policy.
func TestCheckPacket_HighestPriorityAlwaysWinsAmongMatches(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := New()
		n := rapid.IntRange(1, 8).Draw(t, "n")
		maxPriority := -1
		var maxID string
		for i := 0; i < n; i++ {
			priority := rapid.IntRange(0, 100).Draw(t, "priority")
			id := rapid.StringMatching(`p[0-9]`).Draw(t, "id") + string(rune('a'+i))
			action := rapid.SampledFrom([]string{"allow", "drop"}).Draw(t, "action")
			e.Create(&Policy{ID: id, Priority: priority, Status: StatusActive, Action: action})
			if priority >= maxPriority {
				maxPriority = priority
				maxID = id
			}
		}

		d := e.CheckPacket(Packet{SrcIP: "10.0.0.1"})
		assert.Equal(t, maxID, d.PolicyID)
	})
}
